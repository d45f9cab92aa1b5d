package heritage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory Store used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[string]*Entry
}

// NewMemoryStore creates an empty in-memory heritage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]map[string]*Entry)}
}

func (s *MemoryStore) Get(_ context.Context, counterpartID uuid.UUID, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[counterpartID][key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, key)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, counterpartID uuid.UUID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries[counterpartID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.entries[entry.CounterpartID]
	if !ok {
		byKey = make(map[string]*Entry)
		s.entries[entry.CounterpartID] = byKey
	}

	cp := *entry
	if prev, ok := byKey[entry.Key]; ok {
		cp.Version = prev.Version + 1
	} else if cp.Version == 0 {
		cp.Version = 1
	}
	cp.UpdatedAt = time.Now().UTC()
	byKey[entry.Key] = &cp
	entry.Version = cp.Version
	return nil
}

var _ Store = (*MemoryStore)(nil)
