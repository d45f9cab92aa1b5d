// Package agency gates every side-effecting action behind a trust-tiered
// capability contract, records rollback descriptors before execution, and
// keeps an append-only audit log of every ruling.
package agency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAuthorizationDenied is surfaced to the requester, never silently
	// swallowed.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrRollbackCaptureFailed denies the triggering action.
	ErrRollbackCaptureFailed = errors.New("rollback descriptor capture failed")
	// ErrActionNotFound is returned for unknown action IDs.
	ErrActionNotFound = errors.New("action not found")
	// ErrTrustNotFound is returned when a counterpart has no trust state yet.
	ErrTrustNotFound = errors.New("trust state not found")
)

// Decision is the gate's ruling on an action request.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDeny   Decision = "deny"
	DecisionAdvise Decision = "advise"
)

// Tier is the ordinal authorization level, 1 (lowest) through 4.
type Tier int

const (
	TierMin Tier = 1
	TierMax Tier = 4
)

// Score thresholds for each tier. The running score starts at 0 and a
// counterpart begins at tier 1.
const (
	scoreTier2 = 25.0
	scoreTier3 = 50.0
	scoreTier4 = 75.0
)

// tierForScore maps the running score to the tier its band implies.
func tierForScore(score float64) Tier {
	switch {
	case score >= scoreTier4:
		return 4
	case score >= scoreTier3:
		return 3
	case score >= scoreTier2:
		return 2
	default:
		return 1
	}
}

// TrustState is the per-counterpart authorization tier plus the running
// score that moves it between tiers.
type TrustState struct {
	CounterpartID uuid.UUID
	Tier          Tier
	Score         float64
	// PendingTier and PendingSince track a score that has crossed into a
	// different tier's band. The tier itself changes only after the score
	// stays there for the dwell period.
	PendingTier  Tier
	PendingSince time.Time
	Version      int64
	UpdatedAt    time.Time
}

// Clone returns a deep copy.
func (s *TrustState) Clone() *TrustState {
	c := *s
	return &c
}

// Outcome classifies an observed action result for trust scoring.
type Outcome string

const (
	// OutcomeConfirmed is a successful, confirmed-beneficial action.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeRejected is an explicitly rejected proposal.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRolledBack is an executed action that was undone.
	OutcomeRolledBack Outcome = "rolled_back"
)

// TrustStore persists versioned trust state.
type TrustStore interface {
	Latest(ctx context.Context, counterpartID uuid.UUID) (*TrustState, error)
	// Commit persists a new version atomically. On error the prior version
	// stays authoritative.
	Commit(ctx context.Context, state *TrustState) error
}

// ActionRecord is an executed action with its rollback descriptor.
type ActionRecord struct {
	ID            uuid.UUID
	CounterpartID uuid.UUID
	Category      string
	Name          string
	Parameters    map[string]any
	Output        string
	// Rollback is the serialized descriptor captured before execution,
	// sufficient to undo the action.
	Rollback     string
	ExecutedAt   time.Time
	RolledBackAt *time.Time
}

// ActionStore persists executed actions for later rollback.
type ActionStore interface {
	Insert(ctx context.Context, rec *ActionRecord) error
	Get(ctx context.Context, id uuid.UUID) (*ActionRecord, error)
	MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AuditEvent is one entry in the append-only audit log. Every ruling is
// logged, denials included.
type AuditEvent struct {
	ID            uuid.UUID
	CounterpartID uuid.UUID
	Category      string
	Name          string
	Decision      Decision
	Tier          Tier
	RequiredTier  Tier
	Detail        string
	CreatedAt     time.Time
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, event *AuditEvent) error
	List(ctx context.Context, counterpartID uuid.UUID, limit int) ([]*AuditEvent, error)
}

// Executor performs actions and their rollbacks. Implemented by the actions
// package; injected so the gate stays side-effect free itself.
type Executor interface {
	// CaptureRollback returns a serialized descriptor sufficient to undo
	// the action, captured before anything runs.
	CaptureRollback(ctx context.Context, category, name string, params map[string]any) (string, error)
	Execute(ctx context.Context, category, name string, params map[string]any) (string, error)
	Rollback(ctx context.Context, category, name, descriptor string) error
}

// Config are the trust scoring tunables.
type Config struct {
	ConfirmDelta  float64       `yaml:"confirm_delta" json:"confirm_delta"`
	RejectDelta   float64       `yaml:"reject_delta" json:"reject_delta"`
	RollbackDelta float64       `yaml:"rollback_delta" json:"rollback_delta"`
	DwellPeriod   time.Duration `yaml:"dwell_period" json:"dwell_period"`
	AdvisoryTTL   time.Duration `yaml:"advisory_ttl" json:"advisory_ttl"`
}

func (c *Config) confirmDelta() float64 {
	if c == nil || c.ConfirmDelta == 0 {
		return 1
	}
	return c.ConfirmDelta
}

func (c *Config) rejectDelta() float64 {
	if c == nil || c.RejectDelta == 0 {
		return -2
	}
	return c.RejectDelta
}

func (c *Config) rollbackDelta() float64 {
	if c == nil || c.RollbackDelta == 0 {
		return -3
	}
	return c.RollbackDelta
}

func (c *Config) dwellPeriod() time.Duration {
	if c == nil || c.DwellPeriod == 0 {
		return 24 * time.Hour
	}
	return c.DwellPeriod
}

func (c *Config) advisoryTTL() time.Duration {
	if c == nil || c.AdvisoryTTL == 0 {
		return time.Hour
	}
	return c.AdvisoryTTL
}
