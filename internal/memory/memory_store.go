package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory Store used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	byID    map[uuid.UUID]int
	nextSeq int64
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]int)}
}

func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	rec.Seq = s.nextSeq
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	cp := s.records[idx]
	return &cp, nil
}

func (s *MemoryStore) Recent(_ context.Context, counterpartID uuid.UUID, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.CounterpartID == counterpartID && !r.Stale {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Window(_ context.Context, counterpartID uuid.UUID, afterSeq int64, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if len(out) >= limit {
			break
		}
		if r.CounterpartID == counterpartID && r.Seq > afterSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkStale(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if idx, ok := s.byID[id]; ok {
			s.records[idx].Stale = true
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
