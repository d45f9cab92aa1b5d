package agency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	scoreFloor   = 0.0
	scoreCeiling = 100.0
)

// TrustManager owns per-counterpart trust state. Tier transitions apply only
// after the running score has stayed in a new tier's band for the dwell
// period, in either direction, so a single transient spike never changes
// tier.
type TrustManager struct {
	store   TrustStore
	config  *Config
	metrics *Metrics
	logger  *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewTrustManager creates a trust manager.
func NewTrustManager(store TrustStore, config *Config, metrics *Metrics, logger *slog.Logger) *TrustManager {
	return &TrustManager{
		store:   store,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Seed creates the initial trust state for a new counterpart. Idempotent.
func (m *TrustManager) Seed(ctx context.Context, counterpartID uuid.UUID) (*TrustState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Latest(ctx, counterpartID)
	if err == nil {
		return state.Clone(), nil
	}
	if !errors.Is(err, ErrTrustNotFound) {
		return nil, fmt.Errorf("loading trust state: %w", err)
	}

	state = &TrustState{
		CounterpartID: counterpartID,
		Tier:          TierMin,
		Score:         scoreFloor,
		Version:       1,
		UpdatedAt:     m.now().UTC(),
	}
	if err := m.store.Commit(ctx, state); err != nil {
		return nil, fmt.Errorf("seeding trust state: %w", err)
	}
	return state.Clone(), nil
}

// Current returns the committed trust state, seeding if absent.
func (m *TrustManager) Current(ctx context.Context, counterpartID uuid.UUID) (*TrustState, error) {
	m.mu.Lock()
	state, err := m.store.Latest(ctx, counterpartID)
	m.mu.Unlock()
	if errors.Is(err, ErrTrustNotFound) {
		return m.Seed(ctx, counterpartID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading trust state: %w", err)
	}
	return state.Clone(), nil
}

// RecordOutcome applies a scored outcome and commits a new trust version.
func (m *TrustManager) RecordOutcome(ctx context.Context, counterpartID uuid.UUID, outcome Outcome) (*TrustState, error) {
	prior, err := m.Current(ctx, counterpartID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := prior.Clone()
	state.Score = clampScore(state.Score + m.delta(outcome))
	m.applyTierRule(state)
	state.Version++
	state.UpdatedAt = m.now().UTC()

	if err := m.store.Commit(ctx, state); err != nil {
		return nil, fmt.Errorf("committing trust state: %w", err)
	}

	m.metrics.observeTrust(state, outcome)
	m.logger.DebugContext(ctx, "trust outcome recorded",
		slog.String("counterpart_id", counterpartID.String()),
		slog.String("outcome", string(outcome)),
		slog.Float64("score", state.Score),
		slog.Int("tier", int(state.Tier)),
	)
	return state.Clone(), nil
}

func (m *TrustManager) delta(outcome Outcome) float64 {
	switch outcome {
	case OutcomeConfirmed:
		return m.config.confirmDelta()
	case OutcomeRejected:
		return m.config.rejectDelta()
	case OutcomeRolledBack:
		return m.config.rollbackDelta()
	default:
		return 0
	}
}

// applyTierRule implements dwell hysteresis. The score's implied tier must
// hold continuously for the dwell period before the tier follows it.
func (m *TrustManager) applyTierRule(state *TrustState) {
	implied := tierForScore(state.Score)
	now := m.now().UTC()

	if implied == state.Tier {
		state.PendingTier = 0
		state.PendingSince = time.Time{}
		return
	}
	if state.PendingTier != implied {
		state.PendingTier = implied
		state.PendingSince = now
		return
	}
	if now.Sub(state.PendingSince) < m.config.dwellPeriod() {
		return
	}

	m.logger.Info("trust tier changed",
		slog.String("counterpart_id", state.CounterpartID.String()),
		slog.Int("from", int(state.Tier)),
		slog.Int("to", int(implied)),
		slog.Float64("score", state.Score),
	)
	state.Tier = implied
	state.PendingTier = 0
	state.PendingSince = time.Time{}
}

func clampScore(s float64) float64 {
	if s < scoreFloor {
		return scoreFloor
	}
	if s > scoreCeiling {
		return scoreCeiling
	}
	return s
}
