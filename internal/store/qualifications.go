package store

import (
	"context"
	"fmt"
	"time"
)

// Enrichment is one record's deterministic heuristic output for a theme
// (the pre-classification table).
type Enrichment struct {
	Theme  string
	ID     string
	Date   time.Time
	Region string
	Laws   string // comma-joined law codes
}

// Qualification is one record's AI-stage outcome for a theme. An empty
// Verdict means the record is still pending: a prior call was skipped,
// deferred over the cap, or failed, and it stays eligible on the next run.
type Qualification struct {
	Theme        string
	ID           string
	GroupKey     string // optional secondary key for human-curated merges
	Date         time.Time
	Region       string
	Laws         string
	Names        string
	Ages         string
	IncidentType string
	Equipment    string
	RawVerdict   string
	Verdict      string // "yes", "no", or raw fallback; "" = pending
}

// Enrichments returns a theme's pre-classification table ordered by date.
func (s *Store) Enrichments(ctx context.Context, theme string) ([]Enrichment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT theme, id, date, region, laws
		FROM enrichments WHERE theme = ? ORDER BY date, id`, theme)
	if err != nil {
		return nil, fmt.Errorf("listing enrichments for %s: %w", theme, err)
	}
	defer rows.Close()

	var out []Enrichment
	for rows.Next() {
		var e Enrichment
		var date string
		if err := rows.Scan(&e.Theme, &e.ID, &date, &e.Region, &e.Laws); err != nil {
			return nil, fmt.Errorf("scanning enrichment: %w", err)
		}
		if e.Date, err = timeFromDB(date); err != nil {
			return nil, fmt.Errorf("enrichment %s/%s: %w", theme, e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEnrichments merges heuristic results, last write wins per (theme, id).
func (s *Store) UpsertEnrichments(ctx context.Context, batch []Enrichment) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO enrichments (theme, id, date, region, laws, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(theme, id) DO UPDATE SET
			date = excluded.date,
			region = excluded.region,
			laws = excluded.laws,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing enrichment upsert: %w", err)
	}
	defer stmt.Close()

	now := timeToDB(time.Now())
	written := 0
	for _, e := range batch {
		if e.Theme == "" || e.ID == "" {
			return written, fmt.Errorf("enrichment with empty key (%q, %q)", e.Theme, e.ID)
		}
		if _, err := stmt.ExecContext(ctx, e.Theme, e.ID, timeToDB(e.Date), e.Region, e.Laws, now); err != nil {
			return written, fmt.Errorf("upserting enrichment %s/%s: %w", e.Theme, e.ID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("committing enrichments: %w", err)
	}
	return written, nil
}

// Qualifications returns a theme's qualification table ordered by date.
func (s *Store) Qualifications(ctx context.Context, theme string) ([]Qualification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT theme, id, group_key, date, region, laws, names, ages,
		       incident_type, equipment, raw_verdict, verdict
		FROM qualifications WHERE theme = ? ORDER BY date, id`, theme)
	if err != nil {
		return nil, fmt.Errorf("listing qualifications for %s: %w", theme, err)
	}
	defer rows.Close()

	var out []Qualification
	for rows.Next() {
		var q Qualification
		var date string
		if err := rows.Scan(&q.Theme, &q.ID, &q.GroupKey, &date, &q.Region, &q.Laws,
			&q.Names, &q.Ages, &q.IncidentType, &q.Equipment, &q.RawVerdict, &q.Verdict); err != nil {
			return nil, fmt.Errorf("scanning qualification: %w", err)
		}
		if q.Date, err = timeFromDB(date); err != nil {
			return nil, fmt.Errorf("qualification %s/%s: %w", theme, q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertQualifications merges AI-stage results, last write wins per
// (theme, id). Rows whose filter result is finalized for the theme are
// skipped — finalization freezes every downstream table too.
func (s *Store) UpsertQualifications(ctx context.Context, batch []Qualification) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qualifications (theme, id, group_key, date, region, laws, names, ages,
			incident_type, equipment, raw_verdict, verdict, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM filter_results f
			WHERE f.theme = ?1 AND f.id = ?2 AND f.finalized = 1
		)
		ON CONFLICT(theme, id) DO UPDATE SET
			group_key = excluded.group_key,
			date = excluded.date,
			region = excluded.region,
			laws = excluded.laws,
			names = excluded.names,
			ages = excluded.ages,
			incident_type = excluded.incident_type,
			equipment = excluded.equipment,
			raw_verdict = excluded.raw_verdict,
			verdict = excluded.verdict,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing qualification upsert: %w", err)
	}
	defer stmt.Close()

	now := timeToDB(time.Now())
	written := 0
	for _, q := range batch {
		if q.Theme == "" || q.ID == "" {
			return written, fmt.Errorf("qualification with empty key (%q, %q)", q.Theme, q.ID)
		}
		if _, err := stmt.ExecContext(ctx, q.Theme, q.ID, q.GroupKey, timeToDB(q.Date),
			q.Region, q.Laws, q.Names, q.Ages, q.IncidentType, q.Equipment,
			q.RawVerdict, q.Verdict, now); err != nil {
			return written, fmt.Errorf("upserting qualification %s/%s: %w", q.Theme, q.ID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("committing qualifications: %w", err)
	}
	return written, nil
}
