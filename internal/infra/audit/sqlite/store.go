// Package sqlite persists the flush audit ledger to a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"mixinhost/internal/mixin"
)

var _ mixin.AuditRecorder = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS flush_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	target TEXT NOT NULL,
	sources TEXT NOT NULL,
	descriptors INTEGER NOT NULL,
	bytes_in INTEGER NOT NULL,
	bytes_out INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
)`

// Store appends one row per audited flush target.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the ledger at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "mixinhost-audit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: ":memory:" databases are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Record inserts entry.
func (s *Store) Record(ctx context.Context, entry mixin.AuditEntry) error {
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO flush_audit(
		run_id, operation, target, sources, descriptors, bytes_in, bytes_out, status, error, duration_ns, recorded_at
	) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		entry.RunID, entry.Operation, entry.Target, string(sources), entry.Descriptors,
		entry.BytesIn, entry.BytesOut, string(entry.Status), entry.Error,
		entry.Duration.Nanoseconds(), entry.Timestamp.UTC().Format(time.RFC3339Nano))
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
		query += ` WHERE run_id = ?`
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
			sources  string
			status   string
			duration int64
			recorded string
		)
		if err := rows.Scan(&e.RunID, &e.Operation, &e.Target, &sources, &e.Descriptors,
			&e.BytesIn, &e.BytesOut, &status, &e.Error, &duration, &recorded); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}
		e.Status = mixin.AuditStatus(status)
		e.Duration = time.Duration(duration)
		e.Timestamp = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }
