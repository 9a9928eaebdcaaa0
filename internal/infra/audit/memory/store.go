// Package memory keeps the flush audit ledger in process memory.
package memory

import (
	"context"
	"sync"

	"mixinhost/internal/mixin"
)

var _ mixin.AuditRecorder = (*Store)(nil)

// Store is a goroutine-safe append-only ledger.
type Store struct {
	mu      sync.RWMutex
	entries []mixin.AuditEntry
}

// NewStore returns an empty ledger.
func NewStore() *Store { return &Store{} }

// Record appends entry.
func (s *Store) Record(_ context.Context, entry mixin.AuditEntry) error {
	entry.Sources = append([]string(nil), entry.Sources...)
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// List returns entries in recording order, filtered by runID when set.
func (s *Store) List(_ context.Context, runID string) ([]mixin.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mixin.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if runID != "" && e.RunID != runID {
			continue
		}
		e.Sources = append([]string(nil), e.Sources...)
		out = append(out, e)
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
