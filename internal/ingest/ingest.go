// Package ingest loads message source tables (CSV or JSON exports of the
// upstream collectors) into the combined messages table. Raw platform
// ingestion itself lives outside this system; this package only consumes
// its exports.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/railwatch/railwatch/internal/store"
)

// Required source columns. A missing one is a fatal configuration error:
// the import aborts before any write.
var requiredColumns = []string{"id", "date", "text_original", "text_translate"}

// MissingColumnError reports a source table that lacks a required column.
type MissingColumnError struct {
	Path   string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("source table %s is missing required column %q", e.Path, e.Column)
}

// Importer loads source exports into the record store.
type Importer struct {
	st  *store.Store
	log *zap.Logger
}

// NewImporter returns an importer. A nil logger disables logging.
func NewImporter(st *store.Store, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{st: st, log: log}
}

// ImportFile loads one .csv or .json export and upsert-merges it into the
// messages table. Returns the number of rows merged.
func (i *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	var (
		msgs []store.Message
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		msgs, err = ReadCSV(path)
	case ".json":
		msgs, err = ReadJSON(path)
	default:
		return 0, fmt.Errorf("unsupported source format %q (want .csv or .json)", filepath.Ext(path))
	}
	if err != nil {
		return 0, err
	}

	written, err := i.st.UpsertMessages(ctx, msgs)
	if err != nil {
		return written, err
	}
	i.log.Info("source import complete",
		zap.String("path", path),
		zap.Int("rows", written))
	return written, nil
}

// ReadCSV parses a CSV source export. The first row is the header; required
// columns must all be present.
func ReadCSV(path string) ([]store.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, &MissingColumnError{Path: path, Column: "id"}
	}

	col := map[string]int{}
	for j, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = j
	}
	for _, required := range requiredColumns {
		if _, ok := col[required]; !ok {
			return nil, &MissingColumnError{Path: path, Column: required}
		}
	}

	cell := func(row []string, name string) string {
		j, ok := col[name]
		if !ok || j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}

	var msgs []store.Message
	for n, row := range records[1:] {
		id := cell(row, "id")
		if id == "" {
			continue // blank line or trailing garbage
		}
		date, err := parseDate(cell(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, n+2, err)
		}
		msgs = append(msgs, store.Message{
			ID:            id,
			Source:        cell(row, "source"),
			Date:          date,
			TextOriginal:  cell(row, "text_original"),
			TextTranslate: cell(row, "text_translate"),
			URL:           cell(row, "url"),
			PreLabel:      cell(row, "pre_label"),
		})
	}
	return msgs, nil
}

type jsonMessage struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Date          string `json:"date"`
	TextOriginal  string `json:"text_original"`
	TextTranslate string `json:"text_translate"`
	URL           string `json:"url"`
	PreLabel      string `json:"pre_label"`
}

// ReadJSON parses a JSON array source export.
func ReadJSON(path string) ([]store.Message, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var rows []jsonMessage
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("parsing JSON %s: %w", path, err)
	}

	var msgs []store.Message
	for n, r := range rows {
		if r.ID == "" {
			return nil, &MissingColumnError{Path: path, Column: "id"}
		}
		if r.Date == "" {
			return nil, &MissingColumnError{Path: path, Column: "date"}
		}
		date, err := parseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, n, err)
		}
		msgs = append(msgs, store.Message{
			ID:            r.ID,
			Source:        r.Source,
			Date:          date,
			TextOriginal:  r.TextOriginal,
			TextTranslate: r.TextTranslate,
			URL:           r.URL,
			PreLabel:      r.PreLabel,
		})
	}
	return msgs, nil
}

// parseDate accepts the layouts the upstream exporters actually produce.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02.01.2006 15:04",
		"02.01.2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", raw)
}
