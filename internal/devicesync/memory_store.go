package devicesync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
)

var errNotFound = errors.New("record not found")

// MemoryStore is an in-memory sync store for tests and ephemeral runs. It
// assigns the global sync sequence itself, the way the durable backend's
// change journal does.
type MemoryStore struct {
	mu        sync.Mutex
	seq       int64
	affective map[uuid.UUID]AffectiveRevision
	herit     map[uuid.UUID]map[string]HeritageRevision
	prior     []PriorVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		affective: make(map[uuid.UUID]AffectiveRevision),
		herit:     make(map[uuid.UUID]map[string]HeritageRevision),
	}
}

func (s *MemoryStore) AffectiveSince(_ context.Context, sinceSeq int64) ([]AffectiveRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AffectiveRevision
	for _, rev := range s.affective {
		if rev.Seq > sinceSeq {
			out = append(out, rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) HeritageSince(_ context.Context, sinceSeq int64) ([]HeritageRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []HeritageRevision
	for _, byKey := range s.herit {
		for _, rev := range byKey {
			if rev.Seq > sinceSeq {
				out = append(out, rev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) MaxSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

func (s *MemoryStore) LatestAffective(_ context.Context, counterpartID uuid.UUID) (*limbic.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev, ok := s.affective[counterpartID]
	if !ok {
		return nil, errNotFound
	}
	return rev.State.Clone(), nil
}

func (s *MemoryStore) CommitAffective(_ context.Context, state *limbic.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.affective[state.CounterpartID] = AffectiveRevision{Seq: s.seq, State: *state.Clone()}
	return nil
}

func (s *MemoryStore) LatestHeritage(_ context.Context, counterpartID uuid.UUID, key string) (*heritage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev, ok := s.herit[counterpartID][key]
	if !ok {
		return nil, errNotFound
	}
	entry := rev.Entry
	return &entry, nil
}

func (s *MemoryStore) UpsertHeritage(_ context.Context, e *heritage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.herit[e.CounterpartID]
	if !ok {
		byKey = make(map[string]HeritageRevision)
		s.herit[e.CounterpartID] = byKey
	}
	s.seq++
	byKey[e.Key] = HeritageRevision{Seq: s.seq, Entry: *e}
	return nil
}

func (s *MemoryStore) AppendPrior(_ context.Context, p *PriorVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *p
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	s.prior = append(s.prior, clone)
	return nil
}

func (s *MemoryStore) PriorVersions(_ context.Context, counterpartID uuid.UUID, limit int) ([]PriorVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PriorVersion
	for i := len(s.prior) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.prior[i].CounterpartID == counterpartID {
			out = append(out, s.prior[i])
		}
	}
	return out, nil
}
