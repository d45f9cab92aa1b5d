package agency

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProposalNotFound        = errors.New("proposal not found")
	ErrProposalExpired         = errors.New("proposal expired")
	ErrProposalAlreadyResolved = errors.New("proposal already resolved")
)

// ProposalStatus is the state of an advisory proposal.
type ProposalStatus int

const (
	ProposalPending ProposalStatus = iota
	ProposalConfirmed
	ProposalRejected
	ProposalExpired
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalPending:
		return "pending"
	case ProposalConfirmed:
		return "confirmed"
	case ProposalRejected:
		return "rejected"
	case ProposalExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Proposal is an advisory-mode action awaiting explicit confirmation.
type Proposal struct {
	ID            uuid.UUID
	CounterpartID uuid.UUID
	Category      string
	Name          string
	Parameters    map[string]any
	CorrelationID string
	Status        ProposalStatus
	ResolvedBy    string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    time.Time
}

// AdvisoryQueue stores pending proposals in memory. Thread-safe; proposals
// expire after a TTL.
type AdvisoryQueue struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Proposal
	ttl     time.Duration
	logger  *slog.Logger
}

// NewAdvisoryQueue creates a queue with the given proposal TTL.
func NewAdvisoryQueue(ttl time.Duration, logger *slog.Logger) *AdvisoryQueue {
	return &AdvisoryQueue{
		pending: make(map[uuid.UUID]*Proposal),
		ttl:     ttl,
		logger:  logger,
	}
}

// Propose stores a new pending proposal and returns it.
func (q *AdvisoryQueue) Propose(_ context.Context, p *Proposal) *Proposal {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Status = ProposalPending
	p.CreatedAt = now
	p.ExpiresAt = now.Add(q.ttl)

	q.mu.Lock()
	q.pending[p.ID] = p
	q.mu.Unlock()

	q.logger.Info("advisory proposal created",
		slog.String("proposal_id", p.ID.String()),
		slog.String("counterpart_id", p.CounterpartID.String()),
		slog.String("category", p.Category),
		slog.String("name", p.Name),
	)
	return p
}

// Get retrieves a proposal, marking it expired on access if past TTL.
func (q *AdvisoryQueue) Get(_ context.Context, id uuid.UUID) (*Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if p.Status == ProposalPending && time.Now().UTC().After(p.ExpiresAt) {
		p.Status = ProposalExpired
	}
	return p, nil
}

// List returns pending proposals for a counterpart.
func (q *AdvisoryQueue) List(_ context.Context, counterpartID uuid.UUID) []*Proposal {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Proposal
	for _, p := range q.pending {
		if p.CounterpartID == counterpartID && p.Status == ProposalPending {
			out = append(out, p)
		}
	}
	return out
}

// resolve transitions a pending proposal to a terminal status.
func (q *AdvisoryQueue) resolve(id uuid.UUID, resolverID string, status ProposalStatus) (*Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if time.Now().UTC().After(p.ExpiresAt) {
		p.Status = ProposalExpired
		return nil, ErrProposalExpired
	}
	if p.Status != ProposalPending {
		return nil, ErrProposalAlreadyResolved
	}

	p.Status = status
	p.ResolvedBy = resolverID
	p.ResolvedAt = time.Now().UTC()

	q.logger.Info("advisory proposal resolved",
		slog.String("proposal_id", id.String()),
		slog.String("resolver", resolverID),
		slog.String("status", status.String()),
	)
	return p, nil
}

// Cleanup removes expired and stale resolved proposals.
func (q *AdvisoryQueue) Cleanup(_ context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for id, p := range q.pending {
		if p.Status == ProposalPending && now.After(p.ExpiresAt) {
			p.Status = ProposalExpired
		}
		if p.Status != ProposalPending && now.After(p.ExpiresAt.Add(q.ttl)) {
			delete(q.pending, id)
		}
	}
}

// StartCleanup starts a background cleanup loop. Returns a cancel function.
func (q *AdvisoryQueue) StartCleanup(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Cleanup(ctx)
			}
		}
	}()
	return cancel
}
