package dream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/memory"
)

const leaseName = "dream-cycle"

// CounterpartSource enumerates counterparts with committed state. The
// affective state store satisfies this.
type CounterpartSource interface {
	ListCounterparts(ctx context.Context) ([]uuid.UUID, error)
}

// CapabilitySource reports the current capability level. Satisfied by the
// degradation supervisor.
type CapabilitySource interface {
	Level() degradation.Capability
}

// Cycle is one schedulable dream-cycle unit. At most one instance runs
// globally, enforced by the lease.
type Cycle struct {
	memories     memory.Store
	hypotheses   HypothesisStore
	heritage     heritage.Store
	counterparts CounterpartSource
	capability   CapabilitySource
	lease        LeaseStore
	owner        string
	config       *Config
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewCycle creates a dream cycle. The owner string identifies this process
// in the lease.
func NewCycle(
	memories memory.Store,
	hypotheses HypothesisStore,
	heritageStore heritage.Store,
	counterparts CounterpartSource,
	lease LeaseStore,
	owner string,
	config *Config,
	metrics *Metrics,
	logger *slog.Logger,
) *Cycle {
	return &Cycle{
		memories:     memories,
		hypotheses:   hypotheses,
		heritage:     heritageStore,
		counterparts: counterparts,
		lease:        lease,
		owner:        owner,
		config:       config,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// WithCapability wires a capability source. Dreaming only runs at full
// capability; hypothesis mining is the first load shed when a dependency
// degrades.
func (c *Cycle) WithCapability(src CapabilitySource) *Cycle {
	c.capability = src
	return c
}

// Run executes one full dream cycle. A run that cannot take the lease is a
// no-op, not an error: another instance is already dreaming.
func (c *Cycle) Run(ctx context.Context) error {
	if c.capability != nil {
		if level := c.capability.Level(); level < degradation.CapabilityFull {
			c.logger.InfoContext(ctx, "dream cycle skipped, capability reduced",
				slog.String("level", level.String()),
			)
			c.metrics.observeRun("skipped")
			return nil
		}
	}

	ok, err := c.lease.Acquire(ctx, leaseName, c.owner, c.config.leaseTTL())
	if err != nil {
		return fmt.Errorf("acquiring dream lease: %w", err)
	}
	if !ok {
		c.logger.InfoContext(ctx, "dream cycle skipped, lease held elsewhere")
		c.metrics.observeRun("skipped")
		return nil
	}
	defer func() {
		if err := c.lease.Release(context.WithoutCancel(ctx), leaseName, c.owner); err != nil {
			c.logger.ErrorContext(ctx, "releasing dream lease", slog.Any("error", err))
		}
	}()

	start := c.now()
	ids, err := c.counterparts.ListCounterparts(ctx)
	if err != nil {
		c.metrics.observeRun("failed")
		return fmt.Errorf("listing counterparts: %w", err)
	}

	for _, id := range ids {
		if err := c.runOne(ctx, id); err != nil {
			c.logger.ErrorContext(ctx, "dream cycle failed for counterpart",
				slog.String("counterpart_id", id.String()),
				slog.Any("error", err),
			)
		}
	}

	c.metrics.observeRun("completed")
	c.logger.InfoContext(ctx, "dream cycle completed",
		slog.Int("counterparts", len(ids)),
		slog.Duration("elapsed", c.now().Sub(start)),
	)
	return nil
}

// runOne mines and tests hypotheses for one counterpart. The watermark makes
// reruns over an unchanged window idempotent.
func (c *Cycle) runOne(ctx context.Context, counterpartID uuid.UUID) error {
	watermark, err := c.hypotheses.Watermark(ctx, counterpartID)
	if err != nil {
		return fmt.Errorf("loading watermark: %w", err)
	}

	window, err := c.memories.Window(ctx, counterpartID, watermark, c.config.windowSize())
	if err != nil {
		return fmt.Errorf("loading memory window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}

	patterns := minePatterns(window, c.config.minMentions())
	mined := make(map[string]pattern, len(patterns))
	for _, p := range patterns {
		mined[p.key] = p
		if err := c.applyPattern(ctx, counterpartID, p); err != nil {
			return err
		}
	}

	if err := c.testHypotheses(ctx, counterpartID, mined); err != nil {
		return err
	}

	maxSeq := window[len(window)-1].Seq
	if err := c.hypotheses.SetWatermark(ctx, counterpartID, maxSeq); err != nil {
		return fmt.Errorf("advancing watermark: %w", err)
	}
	return nil
}

// applyPattern creates a candidate hypothesis for a newly mined pattern or
// moves a re-observed candidate into testing.
func (c *Cycle) applyPattern(ctx context.Context, counterpartID uuid.UUID, p pattern) error {
	now := c.now().UTC()

	h, err := c.hypotheses.GetByKey(ctx, counterpartID, p.key)
	if errors.Is(err, ErrHypothesisNotFound) {
		h = &Hypothesis{
			ID:            uuid.New(),
			CounterpartID: counterpartID,
			Key:           p.key,
			Claim:         p.claim,
			Supporting:    p.occurrences,
			Status:        StatusCandidate,
			EvidenceIDs:   p.evidenceIDs,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		h.Confidence = confidence(h)
		c.metrics.observeHypothesis(StatusCandidate)
		return c.hypotheses.Upsert(ctx, h)
	}
	if err != nil {
		return fmt.Errorf("loading hypothesis %s: %w", p.key, err)
	}

	if h.Status == StatusPromoted || h.Status == StatusRejected {
		return nil
	}

	h = h.Clone()
	h.Supporting += p.occurrences
	h.EvidenceIDs = append(h.EvidenceIDs, p.evidenceIDs...)
	if h.Status == StatusCandidate {
		h.Status = StatusTesting
		c.metrics.observeHypothesis(StatusTesting)
	}
	h.Confidence = confidence(h)
	h.Version++
	h.UpdatedAt = now
	if err := c.hypotheses.Upsert(ctx, h); err != nil {
		return err
	}
	return c.settle(ctx, h)
}

// testHypotheses checks testing-status hypotheses absent from the new
// window, counting the absence as contradicting evidence.
func (c *Cycle) testHypotheses(ctx context.Context, counterpartID uuid.UUID, mined map[string]pattern) error {
	all, err := c.hypotheses.List(ctx, counterpartID)
	if err != nil {
		return fmt.Errorf("listing hypotheses: %w", err)
	}
	now := c.now().UTC()

	for _, h := range all {
		if h.Status != StatusTesting {
			continue
		}
		if _, ok := mined[h.Key]; ok {
			continue
		}
		h = h.Clone()
		h.Contradicting++
		h.Confidence = confidence(h)
		h.Version++
		h.UpdatedAt = now
		if err := c.hypotheses.Upsert(ctx, h); err != nil {
			return err
		}
		if err := c.settle(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// settle promotes or rejects a hypothesis once its evidence crosses the
// configured thresholds.
func (c *Cycle) settle(ctx context.Context, h *Hypothesis) error {
	switch {
	case h.Contradicting >= c.config.rejectContradictions():
		h.Status = StatusRejected
	case h.Confidence >= c.config.promoteConfidence() && h.Supporting >= c.config.minEvidence():
		h.Status = StatusPromoted
	default:
		return nil
	}
	h.UpdatedAt = c.now().UTC()
	h.Version++
	if err := c.hypotheses.Upsert(ctx, h); err != nil {
		return err
	}
	c.metrics.observeHypothesis(h.Status)

	if h.Status != StatusPromoted {
		c.logger.InfoContext(ctx, "hypothesis rejected",
			slog.String("key", h.Key),
			slog.Int("contradicting", h.Contradicting),
		)
		return nil
	}

	entry := &heritage.Entry{
		CounterpartID: h.CounterpartID,
		Key:           h.Key,
		Value:         h.Claim,
		Confidence:    h.Confidence,
		EvidenceCount: h.Supporting,
		Source:        heritage.SourceDream,
		HypothesisID:  h.ID,
	}
	if err := c.heritage.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("promoting hypothesis %s: %w", h.Key, err)
	}
	c.logger.InfoContext(ctx, "hypothesis promoted",
		slog.String("counterpart_id", h.CounterpartID.String()),
		slog.String("key", h.Key),
		slog.Float64("confidence", h.Confidence),
		slog.Int("evidence", h.Supporting),
	)
	return nil
}

// confidence is the supporting share of total evidence.
func confidence(h *Hypothesis) float64 {
	total := h.Supporting + h.Contradicting
	if total == 0 {
		return 0
	}
	return float64(h.Supporting) / float64(total)
}
