package agency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errCommitFailed = errors.New("commit failed")

// MemoryTrustStore is an in-memory TrustStore used in tests and
// storage-free setups.
type MemoryTrustStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*TrustState

	// FailCommits makes Commit fail, for exercising the commit-failure path.
	FailCommits bool
}

// NewMemoryTrustStore creates an empty in-memory trust store.
func NewMemoryTrustStore() *MemoryTrustStore {
	return &MemoryTrustStore{states: make(map[uuid.UUID]*TrustState)}
}

func (s *MemoryTrustStore) Latest(_ context.Context, counterpartID uuid.UUID) (*TrustState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[counterpartID]
	if !ok {
		return nil, ErrTrustNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryTrustStore) Commit(_ context.Context, state *TrustState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommits {
		return errCommitFailed
	}
	s.states[state.CounterpartID] = state.Clone()
	return nil
}

// MemoryActionStore is an in-memory ActionStore.
type MemoryActionStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*ActionRecord
}

// NewMemoryActionStore creates an empty in-memory action store.
func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{records: make(map[uuid.UUID]*ActionRecord)}
}

func (s *MemoryActionStore) Insert(_ context.Context, rec *ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryActionStore) Get(_ context.Context, id uuid.UUID) (*ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryActionStore) MarkRolledBack(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrActionNotFound
	}
	rec.RolledBackAt = &at
	return nil
}

// MemoryAuditStore is an in-memory append-only AuditStore.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []*AuditEvent
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryAuditStore) List(_ context.Context, counterpartID uuid.UUID, limit int) ([]*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].CounterpartID != counterpartID {
			continue
		}
		cp := *s.events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
