package dream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryHypothesisStore is an in-memory HypothesisStore for tests and
// storage-free setups.
type MemoryHypothesisStore struct {
	mu         sync.Mutex
	byKey      map[uuid.UUID]map[string]*Hypothesis
	watermarks map[uuid.UUID]int64
}

// NewMemoryHypothesisStore creates an empty in-memory hypothesis store.
func NewMemoryHypothesisStore() *MemoryHypothesisStore {
	return &MemoryHypothesisStore{
		byKey:      make(map[uuid.UUID]map[string]*Hypothesis),
		watermarks: make(map[uuid.UUID]int64),
	}
}

func (s *MemoryHypothesisStore) List(_ context.Context, counterpartID uuid.UUID) ([]*Hypothesis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Hypothesis
	for _, h := range s.byKey[counterpartID] {
		out = append(out, h.Clone())
	}
	return out, nil
}

func (s *MemoryHypothesisStore) GetByKey(_ context.Context, counterpartID uuid.UUID, key string) (*Hypothesis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byKey[counterpartID][key]
	if !ok {
		return nil, ErrHypothesisNotFound
	}
	return h.Clone(), nil
}

func (s *MemoryHypothesisStore) Upsert(_ context.Context, h *Hypothesis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byKey[h.CounterpartID]
	if !ok {
		m = make(map[string]*Hypothesis)
		s.byKey[h.CounterpartID] = m
	}
	m[h.Key] = h.Clone()
	return nil
}

func (s *MemoryHypothesisStore) Watermark(_ context.Context, counterpartID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[counterpartID], nil
}

func (s *MemoryHypothesisStore) SetWatermark(_ context.Context, counterpartID uuid.UUID, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[counterpartID] = seq
	return nil
}

// MemoryLeaseStore is an in-memory LeaseStore with expiry.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryLeaseStore creates an empty in-memory lease store.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (s *MemoryLeaseStore) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.leases[name]; ok && l.owner != owner && now.Before(l.expiresAt) {
		return false, nil
	}
	s.leases[name] = memoryLease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryLeaseStore) Release(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[name]; ok && l.owner == owner {
		delete(s.leases, name)
	}
	return nil
}
