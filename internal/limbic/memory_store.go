package limbic

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryStateStore is a thread-safe in-memory StateStore.
// Used in tests and as a fallback when no durable storage is configured.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*State

	// FailCommits forces Commit to fail when set. Lets tests exercise
	// the prior-state-remains-authoritative invariant.
	FailCommits bool
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[uuid.UUID]*State)}
}

func (s *MemoryStateStore) Latest(_ context.Context, counterpartID uuid.UUID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[counterpartID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStateStore) Commit(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommits {
		return errCommitFailed
	}
	s.states[state.CounterpartID] = state.Clone()
	return nil
}

func (s *MemoryStateStore) ListCounterparts(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids, nil
}

var errCommitFailed = errors.New("commit failed")
