package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/agentweave/core"
)

// InMemoryStore is a naive process-local Store.
//
// Concurrency: protected by RWMutex.
// Search: linear scan with keyword matching (see Rank). Suitable only for
// tests and demos; use the sqlite subpackage or your own backend to keep
// memories across restarts.
type InMemoryStore struct {
	mu      sync.RWMutex
	storage map[string][]core.Memory // scope -> memories in insertion order
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		storage: make(map[string][]core.Memory),
		now:     time.Now,
	}
}

// Search implements Store.
func (s *InMemoryStore) Search(_ context.Context, scope, query string, limit int) ([]core.Memory, error) {
	s.mu.RLock()
	candidates := make([]core.Memory, 0, len(s.storage[scope]))

	for _, m := range s.storage[scope] {
		candidates = append(candidates, clone(m))
	}
	s.mu.RUnlock()

	return Rank(candidates, query, limit), nil
}

// Add implements Store.
func (s *InMemoryStore) Add(_ context.Context, scope string, mems []core.Memory) ([]core.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]core.Memory, 0, len(mems))

	for _, m := range mems {
		if m.ID == "" {
			m.ID = core.NewID()
		}

		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now().UTC()
		}

		m = clone(m)
		s.storage[scope] = append(s.storage[scope], m)
		stored = append(stored, clone(m))
	}

	return stored, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mems := s.storage[scope]

	for i, m := range mems {
		if m.ID == id {
			s.storage[scope] = append(mems[:i:i], mems[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// clone copies the metadata map so callers cannot mutate stored state.
func clone(m core.Memory) core.Memory {
	m.Metadata = maps.Clone(m.Metadata)
	return m
}
