// Package limbic implements the affective engine: a bounded emotional
// state vector per counterpart, updated asymptotically after every turn
// and decayed toward a resting baseline while idle.
//
// Architecture:
//   - Database (affective_states table) holds versioned committed states
//   - Engine caches the latest committed state per counterpart
//   - Every update is a continuous transform: v' = v + rate*(target - v)
//   - Posture is a deterministic classification of the committed vector
//
// Invariant: a state update that fails to persist is discarded; the prior
// committed version stays authoritative and no other component ever sees
// the partial update.
package limbic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Variable names one dimension of the affective state vector.
type Variable string

// Primary variables. Secondary variables may be declared in Config;
// they follow the same bounded asymptotic update rule.
const (
	VarTrust   Variable = "trust"   // [0,1] confidence in the counterpart.
	VarWarmth  Variable = "warmth"  // [0,1] attachment / closeness.
	VarArousal Variable = "arousal" // [0,1] activation / energy.
	VarValence Variable = "valence" // [-1,1] pleasantness of the relationship.
)

// Bounds returns the declared [min,max] range for a variable.
// Valence-like variables are signed; everything else lives in [0,1].
func Bounds(v Variable) (min, max float64) {
	if v == VarValence {
		return -1, 1
	}
	return 0, 1
}

// State is one committed version of a counterpart's affective vector.
// Versions are monotonic per counterpart; states are never mutated in
// place, only superseded.
type State struct {
	CounterpartID uuid.UUID
	Version       int64
	Values        map[Variable]float64
	Posture       Posture
	UpdatedAt     time.Time
}

// Clone returns a deep copy so callers can hold a snapshot without
// racing subsequent commits.
func (s *State) Clone() *State {
	cp := *s
	cp.Values = make(map[Variable]float64, len(s.Values))
	for k, v := range s.Values {
		cp.Values[k] = v
	}
	return &cp
}

// Get returns the value of a variable, or the midpoint of its bounds if
// the variable has never been set.
func (s *State) Get(v Variable) float64 {
	if val, ok := s.Values[v]; ok {
		return val
	}
	lo, hi := Bounds(v)
	return (lo + hi) / 2
}

// TurnOutcome carries the signals a completed turn feeds back into the
// affective update. Sentiment and Feedback are in [-1,1]; zero values
// mean "no signal".
type TurnOutcome struct {
	Sentiment float64       // Estimated sentiment of the exchange.
	Feedback  float64       // Explicit counterpart feedback, when given.
	Elapsed   time.Duration // Time since the previous committed turn.
}

// StateStore persists committed affective states, versioned per counterpart.
type StateStore interface {
	// Latest returns the most recent committed state for the counterpart,
	// or ErrStateNotFound if the counterpart has never been seeded.
	Latest(ctx context.Context, counterpartID uuid.UUID) (*State, error)

	// Commit persists a new state version. The write must be atomic:
	// on error the previously committed version remains authoritative.
	Commit(ctx context.Context, state *State) error

	// ListCounterparts returns every counterpart with at least one
	// committed state. Used by the idle decay tick.
	ListCounterparts(ctx context.Context) ([]uuid.UUID, error)
}

// Config holds affective engine tuning. All rates are per-update
// fractions in (0,1); thresholds are deliberately configuration, not
// code, so deployments can tune temperament.
type Config struct {
	Rates     map[Variable]float64 `json:"rates,omitempty" yaml:"rates,omitempty"`         // Per-variable update rate. Default: see DefaultRate.
	Baselines map[Variable]float64 `json:"baselines,omitempty" yaml:"baselines,omitempty"` // Resting values idle decay pulls toward.
	DecayRate float64              `json:"decay_rate" yaml:"decay_rate"`                   // Fraction of remaining distance per decay tick. Default: 0.05.
	// Secondary declares extra vector dimensions beyond the four
	// primary variables (e.g. "curiosity"). All share [0,1] bounds.
	Secondary []Variable `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// DefaultRate is the update rate used when Config.Rates omits a variable.
func (c *Config) DefaultRate(v Variable) float64 {
	if r, ok := c.Rates[v]; ok && r > 0 && r < 1 {
		return r
	}
	switch v {
	case VarValence:
		return 0.30
	case VarWarmth:
		return 0.20
	case VarTrust:
		return 0.10
	case VarArousal:
		return 0.40
	default:
		return 0.15
	}
}

// Baseline returns the resting value idle decay converges to.
func (c *Config) Baseline(v Variable) float64 {
	if b, ok := c.Baselines[v]; ok {
		return clamp(v, b)
	}
	switch v {
	case VarValence:
		return 0.1
	case VarArousal:
		return 0.3
	default:
		return 0.5
	}
}

func (c *Config) decayRate() float64 {
	if c.DecayRate > 0 && c.DecayRate < 1 {
		return c.DecayRate
	}
	return 0.05
}

// Variables returns the full declared vector dimension set.
func (c *Config) Variables() []Variable {
	vars := []Variable{VarTrust, VarWarmth, VarArousal, VarValence}
	return append(vars, c.Secondary...)
}

// clamp forces a value into the variable's declared bounds.
func clamp(v Variable, x float64) float64 {
	lo, hi := Bounds(v)
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
