package postgres

import (
	"time"

	"github.com/google/uuid"
)

// CounterpartModel maps to the "counterparts" table.
type CounterpartModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalID string    `gorm:"not null;uniqueIndex"`
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CounterpartModel) TableName() string { return "counterparts" }

// AffectiveStateModel maps to the "affective_states" table. States are
// versioned append-only records; the latest version per counterpart is
// authoritative and prior versions feed the sync delta log.
type AffectiveStateModel struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	SyncSeq       int64     `gorm:"not null;index"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_affective_version,priority:1"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_affective_version,priority:2"`
	Values        string    `gorm:"type:text;not null"` // JSON variable vector.
	Posture       string    `gorm:"not null"`
	UpdatedAt     time.Time
}

func (AffectiveStateModel) TableName() string { return "affective_states" }

// HeritageEntryModel maps to the "heritage_entries" table. Entries are
// versioned append-only per (counterpart, key).
type HeritageEntryModel struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	SyncSeq       int64     `gorm:"not null;index"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;index:idx_heritage_key,priority:1"`
	Key           string    `gorm:"not null;index:idx_heritage_key,priority:2"`
	Value         string    `gorm:"type:text;not null"`
	Confidence    float64   `gorm:"not null"`
	EvidenceCount int       `gorm:"not null"`
	Source        string    `gorm:"not null"`
	HypothesisID  uuid.UUID `gorm:"type:uuid"`
	Version       int64     `gorm:"not null"`
	UpdatedAt     time.Time
}

func (HeritageEntryModel) TableName() string { return "heritage_entries" }

// MemoryRecordModel maps to the "memory_records" table. Append-only;
// only the stale flag is ever updated.
type MemoryRecordModel struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	ID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;index"`
	Timestamp     time.Time `gorm:"not null;index"`
	Embedding     string    `gorm:"type:text"` // JSON float32 vector; empty when embedding was down.
	Text          string    `gorm:"type:text;not null"`
	Salience      float64   `gorm:"not null"`
	Participant   string    `gorm:"not null"`
	Stale         bool      `gorm:"not null;default:false"`
}

func (MemoryRecordModel) TableName() string { return "memory_records" }

// TrustStateModel maps to the "trust_states" table. Versioned append-only,
// same shape as affective states.
type TrustStateModel struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_trust_version,priority:1"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_trust_version,priority:2"`
	Tier          int       `gorm:"not null"`
	Score         float64   `gorm:"not null"`
	PendingTier   int       `gorm:"not null;default:0"`
	PendingSince  time.Time
	UpdatedAt     time.Time
}

func (TrustStateModel) TableName() string { return "trust_states" }

// ActionRecordModel maps to the "action_records" table.
type ActionRecordModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;index"`
	Category      string    `gorm:"not null"`
	Name          string    `gorm:"not null"`
	Parameters    string    `gorm:"type:text"` // JSON.
	Output        string    `gorm:"type:text"`
	Rollback      string    `gorm:"type:text"`
	ExecutedAt    time.Time `gorm:"not null"`
	RolledBackAt  *time.Time
}

func (ActionRecordModel) TableName() string { return "action_records" }

// AuditEventModel maps to the "audit_events" table.
type AuditEventModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;index"`
	Category      string    `gorm:"not null"`
	Name          string
	Decision      string `gorm:"not null"`
	Tier          int
	RequiredTier  int
	Detail        string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// HypothesisModel maps to the "hypotheses" table. Hypotheses are mutable;
// Version guards optimistic concurrency between dream runs and reads.
type HypothesisModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_hypothesis_key,priority:1"`
	Key           string    `gorm:"not null;uniqueIndex:idx_hypothesis_key,priority:2"`
	Claim         string    `gorm:"type:text;not null"`
	Confidence    float64   `gorm:"not null"`
	Supporting    int       `gorm:"not null"`
	Contradicting int       `gorm:"not null"`
	Status        string    `gorm:"not null;index"`
	EvidenceIDs   string    `gorm:"type:text"` // JSON uuid list.
	Version       int64     `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (HypothesisModel) TableName() string { return "hypotheses" }

// WatermarkModel maps to the "dream_watermarks" table.
type WatermarkModel struct {
	CounterpartID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq           int64     `gorm:"not null"`
	UpdatedAt     time.Time
}

func (WatermarkModel) TableName() string { return "dream_watermarks" }

// LeaseModel maps to the "leases" table.
type LeaseModel struct {
	Name      string `gorm:"primaryKey"`
	Owner     string `gorm:"not null"`
	ExpiresAt time.Time
}

func (LeaseModel) TableName() string { return "leases" }

// PriorVersionModel maps to the "sync_prior_versions" table: losing sides
// of last-write-wins merges, retained for manual resolution.
type PriorVersionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind          string    `gorm:"not null"`
	CounterpartID uuid.UUID `gorm:"type:uuid;not null;index"`
	Key           string
	Version       int64
	Payload       string    `gorm:"type:text;not null"`
	RetainedAt    time.Time `gorm:"not null;index"`
}

func (PriorVersionModel) TableName() string { return "sync_prior_versions" }

// SyncCursorModel is the single-row table backing the global sync
// sequence. One shared counter keeps the export cursor monotonic across
// the affective and heritage tables.
type SyncCursorModel struct {
	ID  int   `gorm:"primaryKey"`
	Seq int64 `gorm:"not null"`
}

func (SyncCursorModel) TableName() string { return "sync_cursor" }
