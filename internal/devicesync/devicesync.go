// Package devicesync implements the delta interface the device sync
// collaborator pulls from and pushes to. Exports are cursored by a
// monotonic sync sequence; merges are last-write-wins per key, with every
// overwritten version retained in a prior-version log for manual
// resolution.
package devicesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
)

// ErrBadDelta is returned for deltas that cannot be applied as sent.
var ErrBadDelta = errors.New("malformed sync delta")

// Kinds of synced records.
const (
	KindAffective = "affective"
	KindHeritage  = "heritage"
)

// Resolutions recorded per conflict.
const (
	ResolutionRemoteApplied = "remote_applied"
	ResolutionLocalKept     = "local_kept"
)

// AffectiveRevision is one committed affective state with its sync cursor.
type AffectiveRevision struct {
	Seq   int64        `json:"seq"`
	State limbic.State `json:"state"`
}

// HeritageRevision is one heritage entry version with its sync cursor.
type HeritageRevision struct {
	Seq   int64          `json:"seq"`
	Entry heritage.Entry `json:"entry"`
}

// Delta is the unit of exchange with the sync collaborator. MaxSeq is the
// cursor to pass to the next export.
type Delta struct {
	DeviceID   string              `json:"device_id,omitempty"`
	SinceSeq   int64               `json:"since_seq"`
	MaxSeq     int64               `json:"max_seq"`
	Affective  []AffectiveRevision `json:"affective,omitempty"`
	Heritage   []HeritageRevision  `json:"heritage,omitempty"`
	ExportedAt time.Time           `json:"exported_at"`
}

// Conflict is one key where both sides changed since the last sync. The
// losing version is retained in the prior-version log, never dropped.
type Conflict struct {
	Kind          string    `json:"kind"`
	CounterpartID uuid.UUID `json:"counterpart_id"`
	Key           string    `json:"key,omitempty"` // Heritage key; empty for affective state.
	LocalVersion  int64     `json:"local_version"`
	RemoteVersion int64     `json:"remote_version"`
	Resolution    string    `json:"resolution"`
}

// ConflictReport summarizes an apply.
type ConflictReport struct {
	Applied   int        `json:"applied"`
	Skipped   int        `json:"skipped"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// PriorVersion is a retained losing version from a last-write-wins merge.
type PriorVersion struct {
	ID            uuid.UUID
	Kind          string
	CounterpartID uuid.UUID
	Key           string
	Version       int64
	Payload       string // Serialized losing record.
	RetainedAt    time.Time
}

// Store is the persistence surface the sync manager works against. It is
// backed by the same tables the limbic engine and heritage profile use, so
// exports see exactly what was committed.
type Store interface {
	// AffectiveSince returns committed states with sync seq > sinceSeq,
	// ascending.
	AffectiveSince(ctx context.Context, sinceSeq int64) ([]AffectiveRevision, error)
	// HeritageSince returns entry versions with sync seq > sinceSeq,
	// ascending.
	HeritageSince(ctx context.Context, sinceSeq int64) ([]HeritageRevision, error)
	// MaxSeq returns the current sync cursor.
	MaxSeq(ctx context.Context) (int64, error)

	LatestAffective(ctx context.Context, counterpartID uuid.UUID) (*limbic.State, error)
	CommitAffective(ctx context.Context, s *limbic.State) error
	LatestHeritage(ctx context.Context, counterpartID uuid.UUID, key string) (*heritage.Entry, error)
	UpsertHeritage(ctx context.Context, e *heritage.Entry) error

	AppendPrior(ctx context.Context, p *PriorVersion) error
	PriorVersions(ctx context.Context, counterpartID uuid.UUID, limit int) ([]PriorVersion, error)
}
