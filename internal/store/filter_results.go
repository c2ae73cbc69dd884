package store

import (
	"context"
	"fmt"
	"time"
)

// FilterResult is one record's filter-stage outcome for a theme.
type FilterResult struct {
	Theme         string
	ID            string
	Date          time.Time
	TextOriginal  string
	TextTranslate string
	URL           string
	Filtered      bool
	FoundTerms    string
	// Finalized marks the record as curated/human-verified for this theme.
	// Once set, no automated stage may change any field of this row.
	Finalized       bool
	RuleFingerprint string
}

// FilterResults returns a theme's standing filter-result table ordered by
// date, then ID.
func (s *Store) FilterResults(ctx context.Context, theme string) ([]FilterResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT theme, id, date, text_original, text_translate, url,
		       filtered, found_terms, finalized, rule_fingerprint
		FROM filter_results WHERE theme = ? ORDER BY date, id`, theme)
	if err != nil {
		return nil, fmt.Errorf("listing filter results for %s: %w", theme, err)
	}
	defer rows.Close()

	var out []FilterResult
	for rows.Next() {
		var fr FilterResult
		var date string
		if err := rows.Scan(&fr.Theme, &fr.ID, &date, &fr.TextOriginal, &fr.TextTranslate,
			&fr.URL, &fr.Filtered, &fr.FoundTerms, &fr.Finalized, &fr.RuleFingerprint); err != nil {
			return nil, fmt.Errorf("scanning filter result: %w", err)
		}
		if fr.Date, err = timeFromDB(date); err != nil {
			return nil, fmt.Errorf("filter result %s/%s: %w", theme, fr.ID, err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// UpsertFilterResults merges a batch into a theme's filter-result table,
// last write wins per (theme, id). Rows already finalized are never updated,
// regardless of what the batch carries — the guard lives in the statement so
// no caller can violate it.
func (s *Store) UpsertFilterResults(ctx context.Context, results []FilterResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filter_results (theme, id, date, text_original, text_translate, url,
			filtered, found_terms, finalized, rule_fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(theme, id) DO UPDATE SET
			date = excluded.date,
			text_original = excluded.text_original,
			text_translate = excluded.text_translate,
			url = excluded.url,
			filtered = excluded.filtered,
			found_terms = excluded.found_terms,
			rule_fingerprint = excluded.rule_fingerprint,
			updated_at = excluded.updated_at
		WHERE filter_results.finalized = 0`)
	if err != nil {
		return 0, fmt.Errorf("preparing filter-result upsert: %w", err)
	}
	defer stmt.Close()

	now := timeToDB(time.Now())
	written := 0
	for _, fr := range results {
		if fr.Theme == "" || fr.ID == "" {
			return written, fmt.Errorf("filter result with empty key (%q, %q)", fr.Theme, fr.ID)
		}
		if _, err := stmt.ExecContext(ctx, fr.Theme, fr.ID, timeToDB(fr.Date),
			fr.TextOriginal, fr.TextTranslate, fr.URL,
			fr.Filtered, fr.FoundTerms, fr.Finalized, fr.RuleFingerprint, now); err != nil {
			return written, fmt.Errorf("upserting filter result %s/%s: %w", fr.Theme, fr.ID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("committing filter results: %w", err)
	}
	return written, nil
}

// SetFinalized promotes (or demotes) a record's curated status for a theme.
// Promotion happens outside the automated pipeline; this is the hook the
// curation tooling calls.
func (s *Store) SetFinalized(ctx context.Context, theme, id string, finalized bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE filter_results SET finalized = ?, updated_at = ? WHERE theme = ? AND id = ?`,
		finalized, timeToDB(time.Now()), theme, id)
	if err != nil {
		return fmt.Errorf("setting finalized for %s/%s: %w", theme, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no filter result for %s/%s", theme, id)
	}
	return nil
}
