package core

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/domain"
)

// MemoryCounterpartStore is an in-memory CounterpartStore for tests and
// ephemeral runs.
type MemoryCounterpartStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*domain.Counterpart
	byExternal map[string]uuid.UUID
}

func NewMemoryCounterpartStore() *MemoryCounterpartStore {
	return &MemoryCounterpartStore{
		byID:       make(map[uuid.UUID]*domain.Counterpart),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (s *MemoryCounterpartStore) Get(ctx context.Context, id uuid.UUID) (*domain.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrCounterpartNotFound
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryCounterpartStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrCounterpartNotFound
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *MemoryCounterpartStore) Create(ctx context.Context, c *domain.Counterpart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *c
	s.byID[c.ID] = &clone
	s.byExternal[c.ExternalID] = c.ID
	return nil
}
