// Package postgres persists the flush audit ledger to Postgres through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"mixinhost/internal/mixin"
)

var _ mixin.AuditRecorder = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/mixinhost?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const schema = `CREATE TABLE IF NOT EXISTS flush_audit (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	target TEXT NOT NULL,
	sources JSONB NOT NULL,
	descriptors INTEGER NOT NULL,
	bytes_in INTEGER NOT NULL,
	bytes_out INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL,
	duration_ns BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`

// Store appends one row per audited flush target.
type Store struct {
	db *sql.DB
}

// NewStore connects with dsn (falls back to defaultDSN) and ensures the
// ledger table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts entry.
func (s *Store) Record(ctx context.Context, entry mixin.AuditEntry) error {
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO flush_audit(
		run_id, operation, target, sources, descriptors, bytes_in, bytes_out, status, error, duration_ns, recorded_at
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.RunID, entry.Operation, entry.Target, sources, entry.Descriptors,
		entry.BytesIn, entry.BytesOut, string(entry.Status), entry.Error,
		entry.Duration.Nanoseconds(), entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// List returns entries in insertion order, filtered by runID when set.
func (s *Store) List(ctx context.Context, runID string) ([]mixin.AuditEntry, error) {
	query := `SELECT run_id, operation, target, sources, descriptors, bytes_in, bytes_out, status, error, duration_ns, recorded_at FROM flush_audit`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = $1`
		args = append(args, runID)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []mixin.AuditEntry
	for rows.Next() {
		var (
			e        mixin.AuditEntry
			sources  []byte
			status   string
			duration int64
		)
		if err := rows.Scan(&e.RunID, &e.Operation, &e.Target, &sources, &e.Descriptors,
			&e.BytesIn, &e.BytesOut, &status, &e.Error, &duration, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &e.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		e.Status = mixin.AuditStatus(status)
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
