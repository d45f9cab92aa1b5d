// Package memory implements the episodic memory index: durable
// append-only records with embeddings, a bounded working-memory buffer
// for very recent context, and diversity-aware retrieval.
//
// Records are immutable after creation. Working-memory hygiene marks
// old entries stale, which removes them from retrieval but keeps the
// durable record available for dream-cycle mining.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.New("memory record not found")

// Participant tags who a record is about.
type Participant string

const (
	ParticipantCounterpart Participant = "counterpart" // Their message.
	ParticipantSelf        Participant = "self"        // Our response.
	ParticipantObserved    Participant = "observed"    // Externally observed event.
)

// Record is one immutable episodic entry.
type Record struct {
	ID            uuid.UUID
	CounterpartID uuid.UUID
	Seq           int64 // Monotonic append sequence, assigned by the store.
	Timestamp     time.Time
	Embedding     []float32
	Text          string
	Salience      float64 // [0,1] importance at creation time.
	Participant   Participant
	Stale         bool // Excluded from retrieval; retained for mining.
}

// Store is the persistence interface for episodic records.
// Append-only: records are never updated except for the stale flag.
type Store interface {
	// Append durably persists a new record and assigns its Seq.
	// The turn that produced a record is not complete until Append returns.
	Append(ctx context.Context, rec *Record) error

	// Get returns a record by id.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// Recent returns up to limit non-stale records for the counterpart,
	// newest first. This is the brute-force candidate scan for retrieval.
	Recent(ctx context.Context, counterpartID uuid.UUID, limit int) ([]Record, error)

	// Window returns records with Seq > afterSeq in ascending Seq order,
	// up to limit, including stale records. Used by dream-cycle mining.
	Window(ctx context.Context, counterpartID uuid.UUID, afterSeq int64, limit int) ([]Record, error)

	// MarkStale flags records as stale without deleting them.
	MarkStale(ctx context.Context, ids []uuid.UUID) error
}

// Config tunes the memory index.
type Config struct {
	WorkingSize     int     `json:"working_size" yaml:"working_size"`           // Working buffer capacity. Default: 64.
	WorkingMaxAgeS  int     `json:"working_max_age_s" yaml:"working_max_age_s"` // Working entry TTL in seconds. Default: 3600.
	CandidateScan   int     `json:"candidate_scan" yaml:"candidate_scan"`       // Records scanned per retrieval. Default: 1000.
	CandidateFactor int     `json:"candidate_factor" yaml:"candidate_factor"`   // Oversize factor: topN = factor*k. Default: 4.
	DiversityLambda float64 `json:"diversity_lambda" yaml:"diversity_lambda"`   // Default diversity weight. Default: 0.7.
	SimilarityCeil  float64 `json:"similarity_ceil" yaml:"similarity_ceil"`     // Pairwise similarity ceiling under diversity. Default: 0.95.
}

func (c *Config) workingSize() int {
	if c.WorkingSize > 0 {
		return c.WorkingSize
	}
	return 64
}

func (c *Config) workingMaxAge() time.Duration {
	if c.WorkingMaxAgeS > 0 {
		return time.Duration(c.WorkingMaxAgeS) * time.Second
	}
	return time.Hour
}

func (c *Config) candidateScan() int {
	if c.CandidateScan > 0 {
		return c.CandidateScan
	}
	return 1000
}

func (c *Config) candidateFactor() int {
	if c.CandidateFactor > 1 {
		return c.CandidateFactor
	}
	return 4
}

// Lambda returns the default diversity weight.
func (c *Config) Lambda() float64 {
	if c.DiversityLambda > 0 && c.DiversityLambda <= 1 {
		return c.DiversityLambda
	}
	return 0.7
}

func (c *Config) similarityCeil() float64 {
	if c.SimilarityCeil > 0 && c.SimilarityCeil < 1 {
		return c.SimilarityCeil
	}
	return 0.95
}
