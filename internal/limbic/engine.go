package limbic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStateNotFound is returned when a counterpart has no committed state.
var ErrStateNotFound = errors.New("affective state not found")

// Engine maintains the committed affective state per counterpart.
// Update and DecayTick are the only writers; the core serializes turns
// per counterpart so each update reads the most recent committed state.
type Engine struct {
	store   StateStore
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	cached map[uuid.UUID]*State // Latest committed state per counterpart.
}

// NewEngine creates an affective engine. Metrics may be nil.
func NewEngine(store StateStore, cfg Config, metrics *Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		cached:  make(map[uuid.UUID]*State),
	}
}

// Snapshot returns a copy of the latest committed state for the
// counterpart. The copy is the turn's immutable "mood snapshot":
// deliberation reads it freely while the commit at turn end still goes
// through the single committed lineage.
func (e *Engine) Snapshot(ctx context.Context, counterpartID uuid.UUID) (*State, error) {
	s, err := e.committed(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Seed creates the initial committed state from first-contact
// convergence output. No-op when a state already exists.
func (e *Engine) Seed(ctx context.Context, counterpartID uuid.UUID, values map[Variable]float64) (*State, error) {
	if existing, err := e.committed(ctx, counterpartID); err == nil {
		return existing.Clone(), nil
	} else if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	s := &State{
		CounterpartID: counterpartID,
		Version:       1,
		Values:        make(map[Variable]float64, len(e.config.Variables())),
		UpdatedAt:     time.Now().UTC(),
	}
	for _, v := range e.config.Variables() {
		if val, ok := values[v]; ok {
			s.Values[v] = clamp(v, val)
		} else {
			s.Values[v] = e.config.Baseline(v)
		}
	}
	s.Posture = ClassifyPosture(s.Values)

	if err := e.store.Commit(ctx, s); err != nil {
		return nil, fmt.Errorf("seeding affective state: %w", err)
	}
	e.cache(s)

	e.logger.InfoContext(ctx, "affective state seeded",
		slog.String("counterpart_id", counterpartID.String()),
		slog.String("posture", string(s.Posture)),
	)
	return s.Clone(), nil
}

// Update applies a turn outcome through the asymptotic rule and commits
// the resulting version. On persistence failure the prior committed
// state remains authoritative and the error is returned to the caller:
// the turn is not complete.
func (e *Engine) Update(ctx context.Context, counterpartID uuid.UUID, outcome TurnOutcome) (*State, error) {
	prev, err := e.committed(ctx, counterpartID)
	if err != nil {
		return nil, err
	}

	next := prev.Clone()
	next.Version = prev.Version + 1
	next.UpdatedAt = time.Now().UTC()

	for _, v := range e.config.Variables() {
		cur := prev.Get(v)
		target := e.target(v, cur, outcome)
		rate := e.config.DefaultRate(v)
		next.Values[v] = clamp(v, cur+rate*(target-cur))
	}
	next.Posture = ClassifyPosture(next.Values)

	if err := e.store.Commit(ctx, next); err != nil {
		return nil, fmt.Errorf("committing affective state v%d: %w", next.Version, err)
	}
	e.cache(next)

	if e.metrics != nil {
		e.metrics.Updates.Inc()
		e.metrics.observeState(next)
	}
	e.logger.DebugContext(ctx, "affective state committed",
		slog.String("counterpart_id", counterpartID.String()),
		slog.Int64("version", next.Version),
		slog.String("posture", string(next.Posture)),
	)
	return next.Clone(), nil
}

// DecayTick pulls every counterpart's state a fraction of the remaining
// distance toward its baseline. Runs on a schedule with no turn in
// flight; a counterpart whose commit fails keeps its prior version and
// is retried next tick.
func (e *Engine) DecayTick(ctx context.Context) error {
	ids, err := e.store.ListCounterparts(ctx)
	if err != nil {
		return fmt.Errorf("listing counterparts for decay: %w", err)
	}

	var failed int
	for _, id := range ids {
		if err := e.decayOne(ctx, id); err != nil {
			failed++
			e.logger.WarnContext(ctx, "decay commit failed",
				slog.String("counterpart_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.metrics != nil {
		e.metrics.DecayTicks.Inc()
	}
	if failed > 0 {
		return fmt.Errorf("decay failed for %d of %d counterparts", failed, len(ids))
	}
	return nil
}

func (e *Engine) decayOne(ctx context.Context, counterpartID uuid.UUID) error {
	prev, err := e.committed(ctx, counterpartID)
	if err != nil {
		return err
	}

	next := prev.Clone()
	next.Version = prev.Version + 1
	next.UpdatedAt = time.Now().UTC()

	rate := e.config.decayRate()
	for _, v := range e.config.Variables() {
		cur := prev.Get(v)
		base := e.config.Baseline(v)
		next.Values[v] = clamp(v, cur+rate*(base-cur))
	}
	next.Posture = ClassifyPosture(next.Values)

	if err := e.store.Commit(ctx, next); err != nil {
		return err
	}
	e.cache(next)
	return nil
}

// target derives the per-variable attractor for this update. Targets
// are always in bounds, so the asymptotic rule can never overshoot.
func (e *Engine) target(v Variable, current float64, outcome TurnOutcome) float64 {
	base := e.config.Baseline(v)

	// Signal strength: explicit feedback dominates estimated sentiment.
	signal := outcome.Sentiment
	if outcome.Feedback != 0 {
		signal = outcome.Feedback
	}

	switch v {
	case VarValence:
		return clamp(v, signal)
	case VarWarmth:
		if signal > 0 {
			return 1
		}
		if signal < 0 {
			return clamp(v, current-0.5)
		}
		return base
	case VarTrust:
		// Trust only follows explicit feedback; sentiment alone does
		// not move it.
		if outcome.Feedback > 0 {
			return 1
		}
		if outcome.Feedback < 0 {
			return 0
		}
		return current
	case VarArousal:
		// Any exchange is activating; long gaps pull toward rest.
		if outcome.Elapsed > 12*time.Hour {
			return base
		}
		return clamp(v, 0.5+signal/2)
	default:
		if signal != 0 {
			return clamp(v, base+signal/2)
		}
		return base
	}
}

// committed returns the cached state, falling back to the store.
func (e *Engine) committed(ctx context.Context, counterpartID uuid.UUID) (*State, error) {
	e.mu.RLock()
	s, ok := e.cached[counterpartID]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := e.store.Latest(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	e.cache(s)
	return s, nil
}

func (e *Engine) cache(s *State) {
	e.mu.Lock()
	e.cached[s.CounterpartID] = s
	e.mu.Unlock()
}

// Invalidate drops the cached state for a counterpart. Called when a newer
// revision lands in storage outside the turn path, such as a device sync,
// so the next update reads the freshly committed row instead of a stale
// cache entry.
func (e *Engine) Invalidate(counterpartID uuid.UUID) {
	e.mu.Lock()
	delete(e.cached, counterpartID)
	e.mu.Unlock()
}

// Prune evicts cached states idle longer than maxIdle and returns the
// eviction count. Evicted counterparts reload from the store on their
// next turn.
func (e *Engine) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0
	for id, s := range e.cached {
		if s.UpdatedAt.Before(cutoff) {
			delete(e.cached, id)
			pruned++
		}
	}
	return pruned
}
