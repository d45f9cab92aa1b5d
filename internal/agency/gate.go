package agency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/domain"
)

// Gate is the agency gate: it rules on every action request, executes allowed
// actions with a rollback descriptor captured first, queues advisory
// proposals, and audits everything.
type Gate struct {
	contract Contract
	trust    *TrustManager
	executor Executor
	actions  ActionStore
	audit    AuditStore
	advisory *AdvisoryQueue
	metrics  *Metrics
	logger   *slog.Logger
}

// NewGate creates an agency gate.
func NewGate(
	contract Contract,
	trust *TrustManager,
	executor Executor,
	actions ActionStore,
	audit AuditStore,
	advisory *AdvisoryQueue,
	metrics *Metrics,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		contract: contract,
		trust:    trust,
		executor: executor,
		actions:  actions,
		audit:    audit,
		advisory: advisory,
		metrics:  metrics,
		logger:   logger,
	}
}

// Trust exposes the gate's trust manager.
func (g *Gate) Trust() *TrustManager { return g.trust }

// Advisory exposes the pending proposal queue.
func (g *Gate) Advisory() *AdvisoryQueue { return g.advisory }

// Resolve rules on one action request and, when allowed, executes it. The
// returned side effect always carries the decision; a denial is reported in
// it rather than as an error so the turn can complete with an explicit
// refusal.
func (g *Gate) Resolve(ctx context.Context, req *domain.ActionRequest) (*domain.SideEffect, error) {
	state, err := g.trust.Current(ctx, req.CounterpartID)
	if err != nil {
		return nil, fmt.Errorf("resolving trust state: %w", err)
	}

	required, known := g.contract.requiredTier(req.Category)
	decision := g.contract.decide(req.Category, state.Tier)
	g.metrics.observeDecision(req.Category, decision)

	switch decision {
	case DecisionAllow:
		return g.execute(ctx, req, state.Tier, required)
	case DecisionAdvise:
		return g.propose(ctx, req, state.Tier, required)
	default:
		detail := fmt.Sprintf("tier %d below required %d", state.Tier, required)
		if !known {
			detail = "unknown action category"
		}
		g.recordAudit(ctx, req, DecisionDeny, state.Tier, required, detail)
		g.logger.WarnContext(ctx, "action denied",
			slog.String("counterpart_id", req.CounterpartID.String()),
			slog.String("category", req.Category),
			slog.String("detail", detail),
		)
		return &domain.SideEffect{
			ActionID:  domain.NewID(),
			Category:  req.Category,
			Name:      req.Name,
			Decision:  string(DecisionDeny),
			Error:     fmt.Sprintf("%v: %s", ErrAuthorizationDenied, detail),
			CreatedAt: time.Now().UTC(),
		}, nil
	}
}

// execute captures the rollback descriptor, runs the action, and records it.
// A rollback capture failure converts the allow into a denial.
func (g *Gate) execute(ctx context.Context, req *domain.ActionRequest, tier, required Tier) (*domain.SideEffect, error) {
	descriptor, err := g.executor.CaptureRollback(ctx, req.Category, req.Name, req.Parameters)
	if err != nil {
		detail := fmt.Sprintf("%v: %v", ErrRollbackCaptureFailed, err)
		g.recordAudit(ctx, req, DecisionDeny, tier, required, detail)
		g.logger.ErrorContext(ctx, "rollback capture failed, action denied",
			slog.String("category", req.Category),
			slog.String("name", req.Name),
			slog.Any("error", err),
		)
		return &domain.SideEffect{
			ActionID:  domain.NewID(),
			Category:  req.Category,
			Name:      req.Name,
			Decision:  string(DecisionDeny),
			Error:     detail,
			CreatedAt: time.Now().UTC(),
		}, nil
	}

	rec := &ActionRecord{
		ID:            domain.NewID(),
		CounterpartID: req.CounterpartID,
		Category:      req.Category,
		Name:          req.Name,
		Parameters:    req.Parameters,
		Rollback:      descriptor,
		ExecutedAt:    time.Now().UTC(),
	}

	output, execErr := g.executor.Execute(ctx, req.Category, req.Name, req.Parameters)
	rec.Output = output
	if err := g.actions.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording executed action: %w", err)
	}

	se := &domain.SideEffect{
		ActionID:  rec.ID,
		Category:  req.Category,
		Name:      req.Name,
		Decision:  string(DecisionAllow),
		Executed:  execErr == nil,
		Output:    output,
		Rollback:  true,
		CreatedAt: rec.ExecutedAt,
	}
	detail := "executed"
	if execErr != nil {
		se.Error = execErr.Error()
		detail = "execution failed: " + execErr.Error()
	}
	g.recordAudit(ctx, req, DecisionAllow, tier, required, detail)
	return se, nil
}

func (g *Gate) propose(ctx context.Context, req *domain.ActionRequest, tier, required Tier) (*domain.SideEffect, error) {
	p := g.advisory.Propose(ctx, &Proposal{
		CounterpartID: req.CounterpartID,
		Category:      req.Category,
		Name:          req.Name,
		Parameters:    req.Parameters,
		CorrelationID: req.CorrelationID,
	})
	g.recordAudit(ctx, req, DecisionAdvise, tier, required, "proposal "+p.ID.String())
	return &domain.SideEffect{
		ActionID:  p.ID,
		Category:  req.Category,
		Name:      req.Name,
		Decision:  string(DecisionAdvise),
		CreatedAt: p.CreatedAt,
	}, nil
}

// ConfirmProposal executes a pending advisory proposal and credits trust.
func (g *Gate) ConfirmProposal(ctx context.Context, id uuid.UUID, resolverID string) (*domain.SideEffect, error) {
	p, err := g.advisory.resolve(id, resolverID, ProposalConfirmed)
	if err != nil {
		return nil, err
	}

	se, err := g.execute(ctx, &domain.ActionRequest{
		CounterpartID: p.CounterpartID,
		Category:      p.Category,
		Name:          p.Name,
		Parameters:    p.Parameters,
		CorrelationID: p.CorrelationID,
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	if se.Executed {
		if _, err := g.trust.RecordOutcome(ctx, p.CounterpartID, OutcomeConfirmed); err != nil {
			g.logger.ErrorContext(ctx, "recording confirm outcome", slog.Any("error", err))
		}
	}
	return se, nil
}

// RejectProposal marks a pending proposal rejected and debits trust.
func (g *Gate) RejectProposal(ctx context.Context, id uuid.UUID, resolverID string) error {
	p, err := g.advisory.resolve(id, resolverID, ProposalRejected)
	if err != nil {
		return err
	}
	if _, err := g.trust.RecordOutcome(ctx, p.CounterpartID, OutcomeRejected); err != nil {
		g.logger.ErrorContext(ctx, "recording reject outcome", slog.Any("error", err))
	}
	g.recordAudit(ctx, &domain.ActionRequest{
		CounterpartID: p.CounterpartID,
		Category:      p.Category,
		Name:          p.Name,
	}, DecisionDeny, 0, 0, "proposal rejected by "+resolverID)
	return nil
}

// RollbackAction undoes a previously executed action using its recorded
// descriptor and debits trust.
func (g *Gate) RollbackAction(ctx context.Context, id uuid.UUID) error {
	rec, err := g.actions.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.RolledBackAt != nil {
		return fmt.Errorf("action %s already rolled back", id)
	}

	if err := g.executor.Rollback(ctx, rec.Category, rec.Name, rec.Rollback); err != nil {
		return fmt.Errorf("rolling back action %s: %w", id, err)
	}
	now := time.Now().UTC()
	if err := g.actions.MarkRolledBack(ctx, id, now); err != nil {
		return fmt.Errorf("marking action rolled back: %w", err)
	}
	if _, err := g.trust.RecordOutcome(ctx, rec.CounterpartID, OutcomeRolledBack); err != nil {
		g.logger.ErrorContext(ctx, "recording rollback outcome", slog.Any("error", err))
	}

	g.recordAudit(ctx, &domain.ActionRequest{
		CounterpartID: rec.CounterpartID,
		Category:      rec.Category,
		Name:          rec.Name,
	}, DecisionAllow, 0, 0, "rolled back")
	g.metrics.observeRollback(rec.Category)
	return nil
}

// ConfirmBeneficial credits trust for an executed action the counterpart
// confirmed was helpful.
func (g *Gate) ConfirmBeneficial(ctx context.Context, id uuid.UUID) error {
	rec, err := g.actions.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = g.trust.RecordOutcome(ctx, rec.CounterpartID, OutcomeConfirmed)
	return err
}

// recordAudit appends to the audit log. Audit failures are logged, never
// allowed to mask the ruling.
func (g *Gate) recordAudit(ctx context.Context, req *domain.ActionRequest, decision Decision, tier, required Tier, detail string) {
	event := &AuditEvent{
		ID:            domain.NewID(),
		CounterpartID: req.CounterpartID,
		Category:      req.Category,
		Name:          req.Name,
		Decision:      decision,
		Tier:          tier,
		RequiredTier:  required,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.audit.Append(ctx, event); err != nil {
		g.logger.ErrorContext(ctx, "appending audit event",
			slog.String("category", req.Category),
			slog.Any("error", err),
		)
	}
}
