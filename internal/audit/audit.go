// Package audit opens the flush audit ledger selected by configuration.
package audit

import (
	"context"
	"fmt"

	"mixinhost/internal/infra/audit/memory"
	"mixinhost/internal/infra/audit/postgres"
	"mixinhost/internal/infra/audit/sqlite"
	"mixinhost/internal/mixin"
)

// Driver names a ledger backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Ledger records flush outcomes and lists them back.
type Ledger interface {
	mixin.AuditRecorder
	List(ctx context.Context, runID string) ([]mixin.AuditEntry, error)
	Close() error
}

var (
	_ Ledger = (*memory.Store)(nil)
	_ Ledger = (*sqlite.Store)(nil)
	_ Ledger = (*postgres.Store)(nil)
)

// Config selects a backend. Path is used by sqlite, DSN by postgres.
type Config struct {
	Driver Driver
	Path   string
	DSN    string
}

// Open constructs the ledger named by cfg.Driver (default memory).
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.Path)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
