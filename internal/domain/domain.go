// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Counterpart is the human (or external agent) the core maintains a
// relationship with. All affective, trust, and heritage state is scoped
// per counterpart.
type Counterpart struct {
	ID         uuid.UUID
	ExternalID string // Opaque string ID used by transports (e.g. "cli-user", device ID).
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TurnRequest is a single incoming message delivered by a transport.
type TurnRequest struct {
	CounterpartID uuid.UUID
	Message       string
	Timestamp     time.Time
	CorrelationID string
	// Override forces a single deliberation perspective, bypassing
	// convergence ("take-the-wheel"). Empty = normal convergence.
	Override string
}

// TurnResult is what the core hands back to the transport after a
// completed turn.
type TurnResult struct {
	Text            string
	Posture         string
	CapabilityLevel string
	CorrelationID   string
	// SideEffects lists actions the Agency Gate resolved during the turn,
	// including advisory proposals awaiting confirmation.
	SideEffects []SideEffect
	Degraded    bool // True when the turn fell back to a reduced-capability path.
}

// SideEffect is one action request resolved by the Agency Gate.
type SideEffect struct {
	ActionID  uuid.UUID
	Category  string // Action category from the capability contract table.
	Name      string
	Decision  string // "allow", "deny", "advise".
	Executed  bool
	Output    string
	Error     string
	Rollback  bool // True if a rollback descriptor was captured.
	CreatedAt time.Time
}

// ActionRequest is a side-effecting action proposed during deliberation,
// before the Agency Gate has ruled on it.
type ActionRequest struct {
	CounterpartID uuid.UUID
	Category      string // e.g. "file.read", "file.write", "automation.trigger".
	Name          string
	Parameters    map[string]any
	CorrelationID string
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
