package agency

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTrustManager(store TrustStore, cfg *Config) *TrustManager {
	return NewTrustManager(store, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{0, 1}, {24.9, 1}, {25, 2}, {49.9, 2}, {50, 3}, {74.9, 3}, {75, 4}, {100, 4},
	}
	for _, tt := range tests {
		if got := tierForScore(tt.score); got != tt.want {
			t.Errorf("tierForScore(%v) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestSeedStartsAtTierOne(t *testing.T) {
	m := newTrustManager(NewMemoryTrustStore(), nil)
	id := uuid.New()

	state, err := m.Seed(context.Background(), id)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if state.Tier != TierMin || state.Score != 0 {
		t.Errorf("expected tier 1 score 0, got tier %d score %v", state.Tier, state.Score)
	}

	again, err := m.Seed(context.Background(), id)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if again.Version != state.Version {
		t.Error("Seed must be idempotent")
	}
}

func TestTierPromotionRequiresDwell(t *testing.T) {
	store := NewMemoryTrustStore()
	m := newTrustManager(store, &Config{DwellPeriod: 24 * time.Hour})

	clock := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	id := uuid.New()
	ctx := context.Background()

	// Drive the score past the tier-2 threshold.
	var state *TrustState
	var err error
	for i := 0; i < 30; i++ {
		state, err = m.RecordOutcome(ctx, id, OutcomeConfirmed)
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if state.Score < scoreTier2 {
		t.Fatalf("setup: score %v below threshold", state.Score)
	}
	if state.Tier != 1 {
		t.Fatalf("tier promoted without dwell: tier %d", state.Tier)
	}

	// Still inside the dwell window.
	clock = clock.Add(12 * time.Hour)
	state, err = m.RecordOutcome(ctx, id, OutcomeConfirmed)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if state.Tier != 1 {
		t.Fatalf("tier promoted before dwell elapsed: tier %d", state.Tier)
	}

	// Past the dwell window.
	clock = clock.Add(13 * time.Hour)
	state, err = m.RecordOutcome(ctx, id, OutcomeConfirmed)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if state.Tier != 2 {
		t.Errorf("expected tier 2 after dwell, got %d", state.Tier)
	}
}

func TestTransientSpikeDoesNotChangeTier(t *testing.T) {
	store := NewMemoryTrustStore()
	m := newTrustManager(store, &Config{DwellPeriod: 24 * time.Hour, ConfirmDelta: 30, RollbackDelta: -30})

	clock := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	id := uuid.New()
	ctx := context.Background()

	// Spike above the threshold, then fall back below it within the dwell
	// window.
	state, err := m.RecordOutcome(ctx, id, OutcomeConfirmed)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if state.Tier != 1 || state.PendingTier != 2 {
		t.Fatalf("expected pending promotion, got %+v", state)
	}

	clock = clock.Add(time.Hour)
	state, err = m.RecordOutcome(ctx, id, OutcomeRolledBack)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if state.Score >= scoreTier2 {
		t.Fatalf("setup: score should be back below threshold, got %v", state.Score)
	}
	if state.Tier != 1 {
		t.Errorf("transient spike changed tier to %d", state.Tier)
	}
	if state.PendingTier != 0 {
		t.Errorf("pending promotion should reset, got %d", state.PendingTier)
	}
}

func TestScoreClampedToBounds(t *testing.T) {
	m := newTrustManager(NewMemoryTrustStore(), &Config{RollbackDelta: -50})
	id := uuid.New()
	ctx := context.Background()

	state, err := m.RecordOutcome(ctx, id, OutcomeRolledBack)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if state.Score != 0 {
		t.Errorf("score should clamp at 0, got %v", state.Score)
	}
}

func TestCommitFailureKeepsPriorState(t *testing.T) {
	store := NewMemoryTrustStore()
	m := newTrustManager(store, nil)
	id := uuid.New()
	ctx := context.Background()

	if _, err := m.Seed(ctx, id); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	store.FailCommits = true
	if _, err := m.RecordOutcome(ctx, id, OutcomeConfirmed); err == nil {
		t.Fatal("expected commit failure")
	}
	store.FailCommits = false

	state, err := m.Current(ctx, id)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if state.Score != 0 || state.Version != 1 {
		t.Errorf("prior state must stay authoritative, got %+v", state)
	}
}
