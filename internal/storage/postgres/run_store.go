// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists runs and events in Postgres.
type RunStore struct {
	pool   pool
	runs   string
	events string
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, tablePrefix string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if tablePrefix != "" && !validTablePrefix.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &RunStore{pool: p, runs: tablePrefix + "runs", events: tablePrefix + "events"}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the run and event tables if they do not exist.
func (s *RunStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	start_url TEXT NOT NULL,
	schema_json JSONB,
	counters JSONB,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	params_json JSONB,
	errors_json JSONB,
	output_uri TEXT
);
CREATE TABLE IF NOT EXISTS %[2]s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES %[1]s(run_id),
	ts TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL,
	key TEXT,
	meta_json JSONB
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_run_id ON %[2]s(run_id);
CREATE INDEX IF NOT EXISTS idx_%[2]s_key ON %[2]s(key);`, s.runs, s.events)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	return nil
}

// CreateRun inserts the run row, leaving an existing row for the same ID untouched.
func (s *RunStore) CreateRun(ctx context.Context, meta crawler.RunMetadata) error {
	if meta.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	cols, err := encodeRun(meta)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, completed_at, start_url, schema_json, counters, duration_ms, params_json, errors_json, output_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (run_id) DO NOTHING`, s.runs)
	_, err = s.pool.Exec(ctx, query,
		meta.RunID, meta.StartedAt, meta.CompletedAt, meta.StartURL, cols.schema, cols.counters,
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
	query := fmt.Sprintf(`
UPDATE %s SET completed_at = $2, counters = $3, duration_ms = $4, params_json = $5, errors_json = $6, output_uri = $7
WHERE run_id = $1`, s.runs)
	tag, err := s.pool.Exec(ctx, query,
		meta.RunID, meta.CompletedAt, cols.counters, meta.Duration.Milliseconds(), cols.params, cols.errors, meta.OutputURI)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	query := fmt.Sprintf(`INSERT INTO %s (run_id, ts, kind, key, meta_json) VALUES ($1,$2,$3,$4,$5)`, s.events)
	if _, err := s.pool.Exec(ctx, query, event.RunID, event.Timestamp, event.Kind, event.Key, metaJSON); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// IsTaskCompleted reports whether a page_fetched event exists for key in runID.
func (s *RunStore) IsTaskCompleted(ctx context.Context, runID, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE run_id = $1 AND key = $2 AND kind = $3)`, s.events)
	var done bool
	if err := s.pool.QueryRow(ctx, query, runID, key, crawler.EventPageFetched).Scan(&done); err != nil {
		return false, fmt.Errorf("query task completion: %w", err)
	}
	return done, nil
}

type runColumns struct {
	schema   []byte
	counters []byte
	params   []byte
	errors   []byte
}

func encodeRun(meta crawler.RunMetadata) (runColumns, error) {
	var cols runColumns
	for _, f := range []struct {
		dst *[]byte
		v   any
	}{
		{&cols.schema, meta.Schema},
		{&cols.counters, map[string]int{
			"pages_fetched":     meta.PagesFetched,
			"pages_failed":      meta.PagesFailed,
			"records_extracted": meta.RecordsExtracted,
			"records_valid":     meta.RecordsValid,
			"records_invalid":   meta.RecordsInvalid,
			"augmenter_calls":   meta.AugmenterCalls,
		}},
		{&cols.params, meta.Params},
		{&cols.errors, meta.Errors},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return runColumns{}, fmt.Errorf("encode run columns: %w", err)
		}
		*f.dst = b
	}
	return cols, nil
}
