// Package monologue implements the deliberation engine: several reasoning
// perspectives evaluate the same turn concurrently, then a weighted
// convergence step picks one candidate response.
package monologue

import (
	"errors"
	"time"

	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
)

// ErrDeliberationExhausted is returned when every perspective failed.
// Callers fall back to a fixed template response.
var ErrDeliberationExhausted = errors.New("all deliberation perspectives failed")

// FallbackText is the template response used when deliberation is exhausted.
const FallbackText = "I'm having trouble collecting my thoughts right now. Give me a moment and ask me again."

// Perspective is a closed set of reasoning stances. Convergence logic is
// exhaustive over this list.
type Perspective string

const (
	PerspectiveCautious    Perspective = "cautious"
	PerspectiveExploratory Perspective = "exploratory"
	PerspectiveEmpathic    Perspective = "empathic"
	PerspectiveAnalytic    Perspective = "analytic"
)

// AllPerspectives lists every perspective in declaration order. The order is
// the tie-break for convergence.
var AllPerspectives = []Perspective{
	PerspectiveCautious,
	PerspectiveExploratory,
	PerspectiveEmpathic,
	PerspectiveAnalytic,
}

// State tracks deliberation progress through a turn.
type State string

const (
	StateGathering    State = "gathering"
	StateDeliberating State = "deliberating"
	StateConverging   State = "converging"
	StateOverridden   State = "overridden"
	StateDone         State = "done"
)

// Input carries everything a perspective needs for one turn. Perspectives
// never see each other's output.
type Input struct {
	CounterpartName string
	Message         string
	Memories        []*memory.Record
	Affect          *limbic.State
	Heritage        map[string]string

	// Perspectives restricts which stances run. Empty means all.
	Perspectives []Perspective
	// Override forces the named perspective's output, skipping convergence.
	Override Perspective
}

// Candidate is one perspective's proposed response.
type Candidate struct {
	Perspective Perspective
	Text        string
	Confidence  float64
	Action      *ProposedAction
	Elapsed     time.Duration
}

// ProposedAction is a side effect a perspective wants to perform. It is a
// request only; the agency gate decides whether it runs.
type ProposedAction struct {
	Category   string            `json:"category"`
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Result is the outcome of a full deliberation.
type Result struct {
	State      State
	Text       string
	Winner     Perspective
	Confidence float64
	Action     *ProposedAction
	Candidates []Candidate
	Failed     []Perspective
}
