// Package sqlite persists crawl runs and their event log in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	start_url TEXT NOT NULL,
	schema_json TEXT,
	counters TEXT,
	duration_ms INTEGER DEFAULT 0,
	params_json TEXT,
	errors_json TEXT,
	output_uri TEXT
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	timestamp TEXT NOT NULL,
	kind TEXT NOT NULL,
	key TEXT,
	meta_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_key ON events(key);
`

// counters is the JSON shape of the runs.counters column.
type counters struct {
	PagesFetched     int `json:"pages_fetched"`
	PagesFailed      int `json:"pages_failed"`
	RecordsExtracted int `json:"records_extracted"`
	RecordsValid     int `json:"records_valid"`
	RecordsInvalid   int `json:"records_invalid"`
	AugmenterCalls   int `json:"augmenter_calls"`
}

// RunStore implements crawler.RunStore on SQLite.
type RunStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*RunStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids "database is locked" under concurrent runs.
	db.SetMaxOpenConns(1)
	store := &RunStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *RunStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts the run row. An existing row for the same run ID is left untouched.
func (s *RunStore) CreateRun(ctx context.Context, meta crawler.RunMetadata) error {
	if meta.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	cols, err := encodeRun(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO runs (run_id, started_at, completed_at, start_url, schema_json, counters, duration_ms, params_json, errors_json, output_uri)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.RunID, cols.startedAt, cols.completedAt, meta.StartURL, cols.schema, cols.counters,
		meta.Duration.Milliseconds(), cols.params, cols.errors, meta.OutputURI)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the mutable columns of an existing run.
func (s *RunStore) UpdateRun(ctx context.Context, meta crawler.RunMetadata) error {
	cols, err := encodeRun(meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET completed_at = ?, counters = ?, duration_ms = ?, params_json = ?, errors_json = ?, output_uri = ?
WHERE run_id = ?`,
		cols.completedAt, cols.counters, meta.Duration.Milliseconds(), cols.params, cols.errors, meta.OutputURI, meta.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: not found", meta.RunID)
	}
	return nil
}

// LogEvent appends one event row.
func (s *RunStore) LogEvent(ctx context.Context, event crawler.Event) error {
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return fmt.Errorf("marshal event meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, timestamp, kind, key, meta_json) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Timestamp.UTC().Format(time.RFC3339Nano), event.Kind, event.Key, string(metaJSON))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// IsTaskCompleted reports whether a page_fetched event exists for key in runID.
func (s *RunStore) IsTaskCompleted(ctx context.Context, runID, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE run_id = ? AND key = ? AND kind = ?`,
		runID, key, crawler.EventPageFetched).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query task completion: %w", err)
	}
	return n > 0, nil
}

// GetRun loads a run row.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.RunMetadata, error) {
	var (
		meta                                                crawler.RunMetadata
		startedAt                                           string
		completedAt, schemaJSON, countersJSON, params, errs sql.NullString
		outputURI                                           sql.NullString
		durationMS                                          int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT run_id, started_at, completed_at, start_url, schema_json, counters, duration_ms, params_json, errors_json, output_uri
FROM runs WHERE run_id = ?`, runID).Scan(
		&meta.RunID, &startedAt, &completedAt, &meta.StartURL, &schemaJSON, &countersJSON,
		&durationMS, &params, &errs, &outputURI)
	if err != nil {
		return crawler.RunMetadata{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if meta.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return crawler.RunMetadata{}, fmt.Errorf("parse started_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return crawler.RunMetadata{}, fmt.Errorf("parse completed_at: %w", err)
		}
		meta.CompletedAt = &t
	}
	meta.Duration = time.Duration(durationMS) * time.Millisecond
	meta.OutputURI = outputURI.String

	var c counters
	for _, col := range []struct {
		raw sql.NullString
		dst any
	}{
		{schemaJSON, &meta.Schema},
		{countersJSON, &c},
		{params, &meta.Params},
		{errs, &meta.Errors},
	} {
		if !col.raw.Valid || col.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw.String), col.dst); err != nil {
			return crawler.RunMetadata{}, fmt.Errorf("decode run columns: %w", err)
		}
	}
	meta.PagesFetched = c.PagesFetched
	meta.PagesFailed = c.PagesFailed
	meta.RecordsExtracted = c.RecordsExtracted
	meta.RecordsValid = c.RecordsValid
	meta.RecordsInvalid = c.RecordsInvalid
	meta.AugmenterCalls = c.AugmenterCalls
	return meta, nil
}

type runColumns struct {
	startedAt   string
	completedAt sql.NullString
	schema      string
	counters    string
	params      string
	errors      string
}

func encodeRun(meta crawler.RunMetadata) (runColumns, error) {
	cols := runColumns{startedAt: meta.StartedAt.UTC().Format(time.RFC3339Nano)}
	if meta.CompletedAt != nil {
		cols.completedAt = sql.NullString{String: meta.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&cols.schema, meta.Schema},
		{&cols.counters, countersOf(meta)},
		{&cols.params, meta.Params},
		{&cols.errors, meta.Errors},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return runColumns{}, fmt.Errorf("encode run columns: %w", err)
		}
		*f.dst = string(b)
	}
	return cols, nil
}

func countersOf(meta crawler.RunMetadata) counters {
	return counters{
		PagesFetched:     meta.PagesFetched,
		PagesFailed:      meta.PagesFailed,
		RecordsExtracted: meta.RecordsExtracted,
		RecordsValid:     meta.RecordsValid,
		RecordsInvalid:   meta.RecordsInvalid,
		AugmenterCalls:   meta.AugmenterCalls,
	}
}
