package poscache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node
// deployments without Redis. Expiry is checked lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// now is swappable for tests.
	now func() time.Time
}

type memoryEntry struct {
	pos      Position
	deadline time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, vehicleID string, pos Position, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[vehicleID] = memoryEntry{pos: pos, deadline: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, vehicleID string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[vehicleID]
	if !ok {
		return Position{}, ErrMiss
	}
	if s.now().After(entry.deadline) {
		delete(s.entries, vehicleID)
		return Position{}, ErrMiss
	}
	return entry.pos, nil
}

func (s *MemoryStore) Invalidate(_ context.Context, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, vehicleID)
	return nil
}
