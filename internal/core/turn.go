package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/domain"
	"github.com/jkaninda/nafsi/internal/embedding"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/monologue"
	"github.com/jkaninda/nafsi/internal/synthesis"
)

// Engine runs the turn pipeline.
type Engine struct {
	limbic       *limbic.Engine
	memories     *memory.Index
	heritage     heritage.Store
	deliberator  *monologue.Engine
	gate         *agency.Gate
	capability   CapabilitySource
	embedder     embedding.Provider
	counterparts CounterpartStore
	config       *Config
	metrics      *Metrics
	logger       *slog.Logger
	locks        *turnLocks
}

// NewEngine wires the turn pipeline.
func NewEngine(
	limbicEngine *limbic.Engine,
	memories *memory.Index,
	heritageStore heritage.Store,
	deliberator *monologue.Engine,
	gate *agency.Gate,
	capability CapabilitySource,
	embedder embedding.Provider,
	counterparts CounterpartStore,
	config *Config,
	metrics *Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		limbic:       limbicEngine,
		memories:     memories,
		heritage:     heritageStore,
		deliberator:  deliberator,
		gate:         gate,
		capability:   capability,
		embedder:     embedder,
		counterparts: counterparts,
		config:       config,
		metrics:      metrics,
		logger:       logger,
		locks:        newTurnLocks(),
	}
}

// Resolve maps a transport's external ID to a counterpart, registering it on
// first contact.
func (e *Engine) Resolve(ctx context.Context, externalID, name string) (*domain.Counterpart, error) {
	c, err := e.counterparts.GetByExternalID(ctx, externalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCounterpartNotFound) {
		return nil, fmt.Errorf("resolving counterpart: %w", err)
	}

	c = &domain.Counterpart{
		ID:         domain.NewID(),
		ExternalID: externalID,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := e.counterparts.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("registering counterpart: %w", err)
	}
	e.logger.InfoContext(ctx, "counterpart registered",
		slog.String("counterpart_id", c.ID.String()),
		slog.String("external_id", externalID),
	)
	return c, nil
}

// PruneIdle drops per-counterpart turn locks idle longer than maxIdle and
// returns the removal count. Safe to run concurrently with turns; locks
// with a holder or waiter are never removed.
func (e *Engine) PruneIdle(maxIdle time.Duration) int {
	return e.locks.prune(maxIdle)
}

// HandleTurn processes one incoming message end to end. Turns for the same
// counterpart are serialized; the affective commit is the point of no
// return, after which cancellation no longer aborts the turn.
func (e *Engine) HandleTurn(ctx context.Context, req *domain.TurnRequest) (*domain.TurnResult, error) {
	level := e.capability.Level()
	if level == degradation.CapabilityUnavailable {
		e.metrics.observeTurn("unavailable", 0)
		return &domain.TurnResult{
			Text:            UnavailableText,
			CapabilityLevel: level.String(),
			CorrelationID:   req.CorrelationID,
			Degraded:        true,
		}, nil
	}

	unlock := e.locks.lock(req.CounterpartID)
	defer unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.turnTimeout())
	defer cancel()

	snapshot, err := e.snapshotOrConverge(ctx, req.CounterpartID)
	if err != nil {
		return nil, err
	}

	var name string
	if counterpart, err := e.counterparts.Get(ctx, req.CounterpartID); err == nil {
		name = counterpart.Name
	}

	memories := e.retrieve(ctx, req, level)
	profile := e.loadHeritage(ctx, req.CounterpartID)

	result, degraded := e.deliberate(ctx, req, name, snapshot, memories, profile, level)

	// Client cancellation before the affective commit aborts the turn with
	// no state mutation. A pipeline deadline instead falls through to the
	// degraded path.
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		e.metrics.observeTurn("aborted", time.Since(start))
		return nil, err
	}

	text := result.Text
	if degraded {
		text = monologue.FallbackText
	}
	text = synthesis.Render(text, snapshot.Posture, level)

	// Point of no return.
	commitCtx := context.WithoutCancel(ctx)
	newState, err := e.limbic.Update(commitCtx, req.CounterpartID, limbic.TurnOutcome{
		Sentiment: estimateSentiment(req.Message),
		Elapsed:   time.Since(snapshot.UpdatedAt),
	})
	if err != nil {
		e.metrics.observeTurn("failed", time.Since(start))
		return nil, fmt.Errorf("committing affective state: %w", err)
	}

	if err := e.record(commitCtx, req, text); err != nil {
		e.metrics.observeTurn("failed", time.Since(start))
		return nil, err
	}

	var sideEffects []domain.SideEffect
	if result.Action != nil {
		se, err := e.gate.Resolve(commitCtx, &domain.ActionRequest{
			CounterpartID: req.CounterpartID,
			Category:      result.Action.Category,
			Name:          result.Action.Name,
			Parameters:    toAnyMap(result.Action.Parameters),
			CorrelationID: req.CorrelationID,
		})
		if err != nil {
			e.logger.ErrorContext(commitCtx, "resolving action", slog.Any("error", err))
		} else {
			sideEffects = append(sideEffects, *se)
		}
	}

	outcome := "completed"
	if degraded {
		outcome = "degraded"
	}
	e.metrics.observeTurn(outcome, time.Since(start))
	e.logger.InfoContext(commitCtx, "turn completed",
		slog.String("counterpart_id", req.CounterpartID.String()),
		slog.String("posture", string(newState.Posture)),
		slog.String("capability", level.String()),
		slog.Bool("degraded", degraded),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &domain.TurnResult{
		Text:            text,
		Posture:         string(newState.Posture),
		CapabilityLevel: level.String(),
		CorrelationID:   req.CorrelationID,
		SideEffects:     sideEffects,
		Degraded:        degraded,
	}, nil
}

// snapshotOrConverge returns the committed affective state, running
// first-contact convergence for unknown counterparts: baseline affect, tier
// one trust, and an origin heritage entry.
func (e *Engine) snapshotOrConverge(ctx context.Context, counterpartID uuid.UUID) (*limbic.State, error) {
	snapshot, err := e.limbic.Snapshot(ctx, counterpartID)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, limbic.ErrStateNotFound) {
		return nil, fmt.Errorf("loading affective state: %w", err)
	}

	e.logger.InfoContext(ctx, "first contact, converging initial state",
		slog.String("counterpart_id", counterpartID.String()),
	)
	snapshot, err = e.limbic.Seed(ctx, counterpartID, nil)
	if err != nil {
		return nil, fmt.Errorf("seeding affective state: %w", err)
	}
	if _, err := e.gate.Trust().Seed(ctx, counterpartID); err != nil {
		return nil, fmt.Errorf("seeding trust state: %w", err)
	}
	entry := &heritage.Entry{
		CounterpartID: counterpartID,
		Key:           "origin.first_contact",
		Value:         time.Now().UTC().Format(time.RFC3339),
		Confidence:    1,
		EvidenceCount: 1,
		Source:        heritage.SourceConvergence,
	}
	if err := e.heritage.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("seeding heritage profile: %w", err)
	}
	return snapshot, nil
}

// retrieve pulls diverse relevant memories. REDUCED capability disables the
// diversity pass; MINIMAL (embedding down) skips retrieval entirely.
// Retrieval failures degrade to an empty context, never fail the turn.
func (e *Engine) retrieve(ctx context.Context, req *domain.TurnRequest, level degradation.Capability) []*memory.Record {
	if level < degradation.CapabilityReduced {
		return nil
	}

	vecs, err := e.embedder.Embed(ctx, []string{req.Message})
	if err != nil || len(vecs) == 0 {
		e.logger.WarnContext(ctx, "query embedding failed, skipping retrieval", slog.Any("error", err))
		return nil
	}

	diversity := -1.0 // Configured default.
	if level == degradation.CapabilityReduced {
		diversity = 0
	}
	records, err := e.memories.Retrieve(ctx, req.CounterpartID, vecs[0], e.config.retrievalK(), diversity)
	if err != nil {
		e.logger.WarnContext(ctx, "memory retrieval failed", slog.Any("error", err))
		return nil
	}

	out := make([]*memory.Record, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out
}

func (e *Engine) loadHeritage(ctx context.Context, counterpartID uuid.UUID) map[string]string {
	profile, err := heritage.Load(ctx, e.heritage, counterpartID)
	if err != nil {
		e.logger.WarnContext(ctx, "loading heritage profile", slog.Any("error", err))
		return nil
	}
	out := make(map[string]string, len(profile.Entries))
	for _, entry := range profile.Entries {
		out[entry.Key] = entry.Value
	}
	return out
}

// deliberate runs the perspective engine for the current capability level.
// Any deliberation failure (exhausted, timed out) yields the degraded path.
func (e *Engine) deliberate(
	ctx context.Context,
	req *domain.TurnRequest,
	name string,
	snapshot *limbic.State,
	memories []*memory.Record,
	profile map[string]string,
	level degradation.Capability,
) (*monologue.Result, bool) {
	in := &monologue.Input{
		CounterpartName: name,

		Message:  req.Message,
		Memories: memories,
		Affect:   snapshot,
		Heritage: profile,
		Override: parseOverride(req.Override),
	}
	if level == degradation.CapabilityMinimal {
		// Single fast perspective.
		in.Perspectives = []monologue.Perspective{monologue.PerspectiveEmpathic}
	}

	result, err := e.deliberator.Deliberate(ctx, in)
	if err != nil {
		e.logger.WarnContext(ctx, "deliberation failed, using fallback",
			slog.String("counterpart_id", req.CounterpartID.String()),
			slog.Any("error", err),
		)
		return &monologue.Result{State: monologue.StateDone, Text: monologue.FallbackText}, true
	}
	return result, false
}

// record appends the exchange to durable memory. The turn is not complete
// until both records are durable.
func (e *Engine) record(ctx context.Context, req *domain.TurnRequest, response string) error {
	salience := 0.5 + 0.5*math.Abs(estimateSentiment(req.Message))

	var msgVec, respVec []float32
	if vecs, err := e.embedder.Embed(ctx, []string{req.Message, response}); err == nil && len(vecs) == 2 {
		msgVec, respVec = vecs[0], vecs[1]
	}

	msg := &memory.Record{
		CounterpartID: req.CounterpartID,
		Embedding:     msgVec,
		Text:          req.Message,
		Salience:      salience,
		Participant:   memory.ParticipantCounterpart,
	}
	if err := e.memories.Observe(ctx, msg); err != nil {
		return fmt.Errorf("recording counterpart message: %w", err)
	}

	resp := &memory.Record{
		CounterpartID: req.CounterpartID,
		Embedding:     respVec,
		Text:          response,
		Salience:      salience,
		Participant:   memory.ParticipantSelf,
	}
	if err := e.memories.Observe(ctx, resp); err != nil {
		return fmt.Errorf("recording response: %w", err)
	}
	return nil
}

func parseOverride(s string) monologue.Perspective {
	p := monologue.Perspective(s)
	for _, known := range monologue.AllPerspectives {
		if p == known {
			return p
		}
	}
	return ""
}

func toAnyMap(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
