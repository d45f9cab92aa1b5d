package dream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/memory"
)

type staticCounterparts []uuid.UUID

func (s staticCounterparts) ListCounterparts(context.Context) ([]uuid.UUID, error) {
	return s, nil
}

type dreamFixture struct {
	cycle      *Cycle
	memories   *memory.MemoryStore
	hypotheses *MemoryHypothesisStore
	heritage   *heritage.MemoryStore
	lease      *MemoryLeaseStore
	id         uuid.UUID
}

func newDreamFixture(t *testing.T, cfg *Config) *dreamFixture {
	t.Helper()
	f := &dreamFixture{
		memories:   memory.NewMemoryStore(),
		hypotheses: NewMemoryHypothesisStore(),
		heritage:   heritage.NewMemoryStore(),
		lease:      NewMemoryLeaseStore(),
		id:         uuid.New(),
	}
	f.cycle = NewCycle(
		f.memories, f.hypotheses, f.heritage,
		staticCounterparts{f.id}, f.lease, "test-owner",
		cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func (f *dreamFixture) observe(t *testing.T, texts ...string) {
	t.Helper()
	for _, text := range texts {
		rec := &memory.Record{
			ID:            uuid.New(),
			CounterpartID: f.id,
			Timestamp:     time.Now().UTC(),
			Text:          text,
			Participant:   memory.ParticipantCounterpart,
		}
		if err := f.memories.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestRunCreatesCandidateFromRepeatedTopic(t *testing.T) {
	f := newDreamFixture(t, nil)
	f.observe(t,
		"the garden looks lovely today",
		"spent the morning in the garden again",
		"thinking about what to plant in the garden",
	)

	if err := f.cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h, err := f.hypotheses.GetByKey(context.Background(), f.id, "topic.garden")
	if err != nil {
		t.Fatalf("expected garden hypothesis: %v", err)
	}
	if h.Status != StatusCandidate {
		t.Errorf("expected candidate status, got %s", h.Status)
	}
	if h.Supporting != 3 {
		t.Errorf("expected 3 supporting observations, got %d", h.Supporting)
	}
	if len(h.EvidenceIDs) != 3 {
		t.Errorf("expected 3 evidence references, got %d", len(h.EvidenceIDs))
	}
}

func TestRunTwiceOnSameWindowIsIdempotent(t *testing.T) {
	f := newDreamFixture(t, nil)
	f.observe(t,
		"the garden looks lovely",
		"weeding the garden took all day",
		"the garden gnome fell over",
	)
	ctx := context.Background()

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}

	// No new records: the watermark makes the second run a no-op.
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if after.Version != before.Version || after.Supporting != before.Supporting {
		t.Errorf("rerun mutated hypothesis: before %+v after %+v", before, after)
	}
}

func TestPromotionIntoHeritage(t *testing.T) {
	f := newDreamFixture(t, nil)
	ctx := context.Background()

	// First window creates the candidate, second confirms it into testing
	// with enough total evidence and no contradictions.
	f.observe(t,
		"the garden looks lovely",
		"garden chores all morning",
		"new garden beds arrived",
	)
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.observe(t,
		"more garden work today",
		"the garden is thriving",
		"garden photos attached",
	)
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if h.Status != StatusPromoted {
		t.Fatalf("expected promoted, got %s (supporting=%d confidence=%v)", h.Status, h.Supporting, h.Confidence)
	}

	entry, err := f.heritage.Get(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("expected heritage entry: %v", err)
	}
	if entry.Source != heritage.SourceDream {
		t.Errorf("expected dream source, got %s", entry.Source)
	}
	if entry.HypothesisID != h.ID {
		t.Error("heritage entry should reference the hypothesis")
	}

	// A further run must not double-promote or bump the heritage version.
	f.observe(t, "garden again")
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	entryAfter, _ := f.heritage.Get(ctx, f.id, "topic.garden")
	if entryAfter.Version != entry.Version {
		t.Errorf("promoted hypothesis re-promoted: version %d -> %d", entry.Version, entryAfter.Version)
	}
}

func TestRejectionAfterContradictingWindows(t *testing.T) {
	f := newDreamFixture(t, &Config{RejectContradictions: 2, PromoteConfidence: 0.99, MinEvidence: 100})
	ctx := context.Background()

	f.observe(t, "the garden is nice", "garden day", "garden time")
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.observe(t, "garden once more", "garden forever", "garden garden")
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Two windows without the topic accumulate contradicting evidence.
	f.observe(t, "busy with work deadlines", "meetings all week", "travel plans soon")
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.observe(t, "more meetings today", "airport tomorrow", "hotel booked tonight")
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if h.Status != StatusRejected {
		t.Errorf("expected rejected after contradicting windows, got %s (contradicting=%d)", h.Status, h.Contradicting)
	}
	if _, err := f.heritage.Get(ctx, f.id, "topic.garden"); !errors.Is(err, heritage.ErrEntryNotFound) {
		t.Error("rejected hypothesis must not reach heritage")
	}
}

func TestConcurrentRunBlockedByLease(t *testing.T) {
	f := newDreamFixture(t, nil)
	ctx := context.Background()
	f.observe(t, "the garden is nice", "garden day", "garden time")

	// Another live instance holds the lease.
	ok, err := f.lease.Acquire(ctx, leaseName, "other-owner", time.Hour)
	if err != nil || !ok {
		t.Fatalf("setup lease: ok=%v err=%v", ok, err)
	}

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden"); !errors.Is(err, ErrHypothesisNotFound) {
		t.Error("run under a foreign lease must be a no-op")
	}

	// After release the cycle proceeds and mines exactly once.
	if err := f.lease.Release(ctx, leaseName, "other-owner"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if h.Supporting != 3 {
		t.Errorf("expected exactly one mining pass, supporting=%d", h.Supporting)
	}
}

type staticCapability degradation.Capability

func (s staticCapability) Level() degradation.Capability {
	return degradation.Capability(s)
}

func TestRunSkippedBelowFullCapability(t *testing.T) {
	f := newDreamFixture(t, nil)
	f.observe(t,
		"the garden looks lovely today",
		"spent the morning in the garden again",
		"thinking about what to plant in the garden",
	)
	f.cycle.WithCapability(staticCapability(degradation.CapabilityReduced))
	ctx := context.Background()

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No mining happened: no hypotheses, watermark untouched, lease free.
	if hs, err := f.hypotheses.List(ctx, f.id); err != nil || len(hs) != 0 {
		t.Errorf("hypotheses = %d (err %v), want none while capability is reduced", len(hs), err)
	}
	if wm, err := f.hypotheses.Watermark(ctx, f.id); err != nil || wm != 0 {
		t.Errorf("watermark = %d (err %v), want 0", wm, err)
	}
	ok, err := f.lease.Acquire(ctx, leaseName, "other-owner", time.Minute)
	if err != nil || !ok {
		t.Errorf("lease should be free after a skipped run: ok=%v err=%v", ok, err)
	}
	if err := f.lease.Release(ctx, leaseName, "other-owner"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Restored capability dreams normally.
	f.cycle.WithCapability(staticCapability(degradation.CapabilityFull))
	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("Run at full capability: %v", err)
	}
	if _, err := f.hypotheses.GetByKey(ctx, f.id, "topic.garden"); err != nil {
		t.Errorf("expected garden hypothesis once capability recovered: %v", err)
	}
}
