package session

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a volatile Store keeping sessions in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Sessions are cloned on the way in and out to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*State)}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return st.Clone(), nil
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[st.ID] = st.Clone()

	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(s.sessions, id)

	return nil
}
