// Package core wires the cognitive pipeline: capability check, retrieval,
// affective snapshot, deliberation, synthesis, state commit, and agency
// resolution, serialized per counterpart.
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/domain"
)

// ErrCounterpartNotFound is returned for unknown counterpart IDs.
var ErrCounterpartNotFound = errors.New("counterpart not found")

// UnavailableText is the fixed fallback when the system is UNAVAILABLE.
// No state is read or mutated on this path.
const UnavailableText = "I'm not able to talk right now. Please try again in a little while."

// CounterpartStore resolves and registers counterparts.
type CounterpartStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Counterpart, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Counterpart, error)
	Create(ctx context.Context, c *domain.Counterpart) error
}

// CapabilitySource reports the current capability level. Satisfied by the
// degradation supervisor.
type CapabilitySource interface {
	Level() degradation.Capability
}

// Config are the turn pipeline tunables.
type Config struct {
	TurnTimeout   time.Duration `yaml:"turn_timeout" json:"turn_timeout"`
	RetrievalK    int           `yaml:"retrieval_k" json:"retrieval_k"`
	SalienceFloor float64       `yaml:"salience_floor" json:"salience_floor"`
}

func (c *Config) turnTimeout() time.Duration {
	if c == nil || c.TurnTimeout <= 0 {
		return 60 * time.Second
	}
	return c.TurnTimeout
}

func (c *Config) retrievalK() int {
	if c == nil || c.RetrievalK <= 0 {
		return 6
	}
	return c.RetrievalK
}

// turnLocks serializes turns per counterpart. Different counterparts
// proceed in parallel. Entries are refcounted so idle ones can be pruned
// without racing an in-flight turn.
type turnLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*turnLock
}

type turnLock struct {
	mu   sync.Mutex
	refs int
	last time.Time
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[uuid.UUID]*turnLock)}
}

func (t *turnLocks) lock(id uuid.UUID) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &turnLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		l.last = time.Now()
		t.mu.Unlock()
	}
}

// prune removes lock entries with no holders or waiters that have been
// idle longer than maxIdle, and returns the removal count.
func (t *turnLocks) prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, l := range t.locks {
		if l.refs == 0 && l.last.Before(cutoff) {
			delete(t.locks, id)
			pruned++
		}
	}
	return pruned
}
