package store

import (
	"context"
	"fmt"
	"time"
)

// Message is one ingested social-media message from the combined-source
// table. ID is stable across runs and uniquely identifies the message.
type Message struct {
	ID            string
	Source        string
	Date          time.Time
	TextOriginal  string
	TextTranslate string
	URL           string
	// PreLabel carries externally applied theme tags, comma-separated.
	// The filter stage seeds its flag from it before evaluating rules.
	PreLabel string
}

// UpsertMessages merges messages into the combined table, last write wins
// per ID. Returns the number of rows written.
func (s *Store) UpsertMessages(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, source, date, text_original, text_translate, url, pre_label, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			date = excluded.date,
			text_original = excluded.text_original,
			text_translate = excluded.text_translate,
			url = excluded.url,
			pre_label = excluded.pre_label,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing message upsert: %w", err)
	}
	defer stmt.Close()

	now := timeToDB(time.Now())
	written := 0
	for _, m := range msgs {
		if m.ID == "" {
			return written, fmt.Errorf("message with empty ID")
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.Source, timeToDB(m.Date),
			m.TextOriginal, m.TextTranslate, m.URL, m.PreLabel, now); err != nil {
			return written, fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("committing messages: %w", err)
	}
	return written, nil
}

// ListMessages returns the full message population ordered by date, then ID.
func (s *Store) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, date, text_original, text_translate, url, pre_label
		FROM messages ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var date string
		if err := rows.Scan(&m.ID, &m.Source, &date, &m.TextOriginal, &m.TextTranslate, &m.URL, &m.PreLabel); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.Date, err = timeFromDB(date); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
