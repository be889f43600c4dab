package store

import (
	"context"
	"sync"
	"time"

	"github.com/atxtak/cotbridge/internal/models"
)

// MemoryStore keeps tracked incidents in a mutex-guarded map. Suitable for
// tests and single-node development; state does not survive restart.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]models.TrackedIncident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.TrackedIncident)}
}

// Get returns the row for uid.
func (s *MemoryStore) Get(_ context.Context, uid string) (models.TrackedIncident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.rows[uid]
	return inc, ok, nil
}

// Put inserts or replaces the row for inc.UID.
func (s *MemoryStore) Put(_ context.Context, inc models.TrackedIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[inc.UID] = inc
	return nil
}

// Delete removes the row for uid.
func (s *MemoryStore) Delete(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, uid)
	return nil
}

// ListOpen returns rows for kind that have not had a closure emitted.
func (s *MemoryStore) ListOpen(_ context.Context, kind models.SourceKind) ([]models.TrackedIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]models.TrackedIncident, 0, len(s.rows))
	for _, inc := range s.rows {
		if inc.SourceKind == kind && !inc.ClosedEmitted {
			open = append(open, inc)
		}
	}
	return open, nil
}

// PurgeOlderThan removes rows last seen before cutoff.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for uid, inc := range s.rows {
		if inc.LastSeenAt.Before(cutoff) {
			delete(s.rows, uid)
			purged++
		}
	}
	return purged, nil
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len reports the number of rows (test helper).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
