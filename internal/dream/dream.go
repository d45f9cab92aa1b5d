// Package dream implements the background learning loop: it mines recent
// memory for recurring patterns, maintains hypotheses about the counterpart,
// tests them against newer data, and promotes validated ones into the
// heritage profile. Runs are mutually exclusive via a storage lease so the
// heritage profile has a single writer.
package dream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrHypothesisNotFound is returned for unknown hypothesis keys.
var ErrHypothesisNotFound = errors.New("hypothesis not found")

// HypothesisStatus is the hypothesis lifecycle state.
type HypothesisStatus string

const (
	StatusCandidate HypothesisStatus = "candidate"
	StatusTesting   HypothesisStatus = "testing"
	StatusPromoted  HypothesisStatus = "promoted"
	StatusRejected  HypothesisStatus = "rejected"
)

// Hypothesis is a candidate pattern about a counterpart. Evidence references
// memory records by id only; records never point back.
type Hypothesis struct {
	ID            uuid.UUID
	CounterpartID uuid.UUID
	// Key identifies the pattern (e.g. "topic.garden") and doubles as the
	// heritage key on promotion.
	Key           string
	Claim         string
	Confidence    float64
	Supporting    int
	Contradicting int
	Status        HypothesisStatus
	EvidenceIDs   []uuid.UUID
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy.
func (h *Hypothesis) Clone() *Hypothesis {
	c := *h
	c.EvidenceIDs = append([]uuid.UUID(nil), h.EvidenceIDs...)
	return &c
}

// HypothesisStore persists hypotheses and the per-counterpart mining
// watermark.
type HypothesisStore interface {
	List(ctx context.Context, counterpartID uuid.UUID) ([]*Hypothesis, error)
	GetByKey(ctx context.Context, counterpartID uuid.UUID, key string) (*Hypothesis, error)
	Upsert(ctx context.Context, h *Hypothesis) error
	// Watermark returns the highest memory sequence already mined for the
	// counterpart; zero when nothing has been mined.
	Watermark(ctx context.Context, counterpartID uuid.UUID) (int64, error)
	SetWatermark(ctx context.Context, counterpartID uuid.UUID, seq int64) error
}

// LeaseStore provides a mutual-exclusion lease with expiry, so a crashed run
// cannot permanently block future runs.
type LeaseStore interface {
	// Acquire takes the named lease for owner if it is free or expired.
	// Returns false when another live owner holds it.
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// Config are the dream cycle tunables.
type Config struct {
	WindowSize           int           `yaml:"window_size" json:"window_size"`
	MinMentions          int           `yaml:"min_mentions" json:"min_mentions"`
	PromoteConfidence    float64       `yaml:"promote_confidence" json:"promote_confidence"`
	MinEvidence          int           `yaml:"min_evidence" json:"min_evidence"`
	RejectContradictions int           `yaml:"reject_contradictions" json:"reject_contradictions"`
	LeaseTTL             time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
}

func (c *Config) windowSize() int {
	if c == nil || c.WindowSize <= 0 {
		return 500
	}
	return c.WindowSize
}

func (c *Config) minMentions() int {
	if c == nil || c.MinMentions <= 0 {
		return 3
	}
	return c.MinMentions
}

func (c *Config) promoteConfidence() float64 {
	if c == nil || c.PromoteConfidence <= 0 {
		return 0.8
	}
	return c.PromoteConfidence
}

func (c *Config) minEvidence() int {
	if c == nil || c.MinEvidence <= 0 {
		return 5
	}
	return c.MinEvidence
}

func (c *Config) rejectContradictions() int {
	if c == nil || c.RejectContradictions <= 0 {
		return 5
	}
	return c.RejectContradictions
}

func (c *Config) leaseTTL() time.Duration {
	if c == nil || c.LeaseTTL <= 0 {
		return 30 * time.Minute
	}
	return c.LeaseTTL
}
