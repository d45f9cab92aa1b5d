// Package heritage holds the durable, slowly-changing profile of a
// counterpart: preferences, recurring behaviors, and hypotheses the
// dream cycle has validated. Live turn handling reads the profile but
// never writes it; the only writers are first-contact convergence and
// the dream cycle's promotion step, which runs under a global lease.
package heritage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when a profile key does not exist.
var ErrEntryNotFound = errors.New("heritage entry not found")

// Source identifies which writer produced a profile entry.
type Source string

const (
	SourceConvergence Source = "convergence" // First-contact seeding.
	SourceDream       Source = "dream"       // Promoted hypothesis.
)

// Entry is one durable fact about a counterpart. Entries carry a
// monotonic version for the delta-sync interface; superseded versions
// are retained in the prior-version log, not overwritten silently.
type Entry struct {
	CounterpartID uuid.UUID
	Key           string  // e.g. "preference.greeting", "habit.evening_checkin".
	Value         string  // Natural-language or structured claim.
	Confidence    float64 // [0,1] at time of promotion.
	EvidenceCount int     // Supporting observations behind the claim.
	Source        Source
	HypothesisID  uuid.UUID // Originating hypothesis; uuid.Nil for convergence entries.
	Version       int64     // Monotonic per (counterpart, key).
	UpdatedAt     time.Time
}

// Store persists heritage profile entries.
type Store interface {
	// Get returns the current version of one entry.
	Get(ctx context.Context, counterpartID uuid.UUID, key string) (*Entry, error)

	// List returns the current version of every entry for a counterpart,
	// ordered by key for deterministic prompt assembly.
	List(ctx context.Context, counterpartID uuid.UUID) ([]Entry, error)

	// Upsert writes a new version of an entry. The previous version, if
	// any, must be retained for the sync conflict log.
	Upsert(ctx context.Context, entry *Entry) error
}

// Profile is an in-memory view of a counterpart's entries, assembled
// once per turn for prompt construction.
type Profile struct {
	CounterpartID uuid.UUID
	Entries       []Entry
	LoadedAt      time.Time
}

// Load assembles the profile for a counterpart.
func Load(ctx context.Context, store Store, counterpartID uuid.UUID) (*Profile, error) {
	entries, err := store.List(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		CounterpartID: counterpartID,
		Entries:       entries,
		LoadedAt:      time.Now().UTC(),
	}, nil
}

// Lookup returns the entry for key, or nil.
func (p *Profile) Lookup(key string) *Entry {
	for i := range p.Entries {
		if p.Entries[i].Key == key {
			return &p.Entries[i]
		}
	}
	return nil
}
