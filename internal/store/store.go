// Package store provides the SQLite storage layer for railwatch.
//
// One database file holds the shared message population plus one table per
// downstream pipeline stage (filter results, heuristic enrichments, AI
// qualifications), each keyed by (theme, record ID). Every write is an
// upsert merge: last write wins per key, and reads come back ordered by
// message date. The design assumes a single writer process per database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.railwatch/railwatch.db"

// Config holds configuration for Open.
type Config struct {
	DBPath string
}

// Store is the SQLite-backed record store shared by every pipeline stage.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (and migrates) the database. Pass ":memory:" for tests.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for surfaces that need raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			text_original TEXT NOT NULL DEFAULT '',
			text_translate TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			pre_label TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date)`,

		`CREATE TABLE IF NOT EXISTS filter_results (
			theme TEXT NOT NULL,
			id TEXT NOT NULL,
			date TEXT NOT NULL,
			text_original TEXT NOT NULL DEFAULT '',
			text_translate TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			filtered INTEGER NOT NULL DEFAULT 0,
			found_terms TEXT NOT NULL DEFAULT '',
			finalized INTEGER NOT NULL DEFAULT 0,
			rule_fingerprint TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (theme, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_filter_results_theme_date ON filter_results(theme, date)`,

		`CREATE TABLE IF NOT EXISTS enrichments (
			theme TEXT NOT NULL,
			id TEXT NOT NULL,
			date TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT '',
			laws TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (theme, id)
		)`,

		`CREATE TABLE IF NOT EXISTS qualifications (
			theme TEXT NOT NULL,
			id TEXT NOT NULL,
			group_key TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT '',
			laws TEXT NOT NULL DEFAULT '',
			names TEXT NOT NULL DEFAULT '',
			ages TEXT NOT NULL DEFAULT '',
			incident_type TEXT NOT NULL DEFAULT '',
			equipment TEXT NOT NULL DEFAULT '',
			raw_verdict TEXT NOT NULL DEFAULT '',
			verdict TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (theme, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qualifications_theme_date ON qualifications(theme, date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Stats holds per-table counters for observability.
type Stats struct {
	Messages       int64
	FilterResults  map[string]int64 // per theme
	FilteredIn     map[string]int64 // per theme, filtered = 1
	Finalized      map[string]int64 // per theme
	Qualifications map[string]int64 // per theme
	Pending        map[string]int64 // per theme, verdict = ''
}

// ReadStats collects table counters.
func (s *Store) ReadStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		FilterResults:  map[string]int64{},
		FilteredIn:     map[string]int64{},
		Finalized:      map[string]int64{},
		Qualifications: map[string]int64{},
		Pending:        map[string]int64{},
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT theme, COUNT(*), COALESCE(SUM(filtered), 0), COALESCE(SUM(finalized), 0)
		FROM filter_results GROUP BY theme`)
	if err != nil {
		return nil, fmt.Errorf("counting filter results: %w", err)
	}
	for rows.Next() {
		var theme string
		var total, filtered, finalized int64
		if err := rows.Scan(&theme, &total, &filtered, &finalized); err != nil {
			rows.Close()
			return nil, err
		}
		st.FilterResults[theme] = total
		st.FilteredIn[theme] = filtered
		st.Finalized[theme] = finalized
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT theme, COUNT(*), SUM(CASE WHEN verdict = '' THEN 1 ELSE 0 END)
		FROM qualifications GROUP BY theme`)
	if err != nil {
		return nil, fmt.Errorf("counting qualifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var theme string
		var total, pending int64
		if err := rows.Scan(&theme, &total, &pending); err != nil {
			return nil, err
		}
		st.Qualifications[theme] = total
		st.Pending[theme] = pending
	}
	return st, rows.Err()
}

// timeToDB renders a timestamp in the canonical column format (UTC, RFC3339).
func timeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// timeFromDB parses a stored timestamp. Accepts a few layouts so externally
// imported rows with second-precision or date-only values still round-trip.
func timeFromDB(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format %q", raw)
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
