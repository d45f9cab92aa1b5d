package monologue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/llm"
)

// stubProvider routes each request to a scripted per-perspective reply by
// matching the stance text in the system prompt.
type stubProvider struct {
	replies map[Perspective]string
	errs    map[Perspective]error
	calls   atomic.Int64
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.calls.Add(1)
	for p, stance := range stancePrompts {
		if !strings.Contains(req.SystemPrompt, stance) {
			continue
		}
		if err := s.errs[p]; err != nil {
			return nil, err
		}
		return &llm.Response{Content: s.replies[p]}, nil
	}
	return nil, errors.New("no stance matched")
}

func jsonReply(text string, confidence float64) string {
	return fmt.Sprintf(`{"response": %q, "confidence": %g}`, text, confidence)
}

func neutralState() *limbic.State {
	return &limbic.State{Posture: limbic.PostureNeutral}
}

func testEngine(p llm.Provider) *Engine {
	return NewEngine(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeliberateConvergesOnHighestConfidence(t *testing.T) {
	provider := &stubProvider{replies: map[Perspective]string{
		PerspectiveCautious:    jsonReply("careful answer", 0.4),
		PerspectiveExploratory: jsonReply("wild answer", 0.9),
		PerspectiveEmpathic:    jsonReply("kind answer", 0.6),
		PerspectiveAnalytic:    jsonReply("precise answer", 0.5),
	}}

	result, err := testEngine(provider).Deliberate(context.Background(), &Input{
		Message: "what should we do today?",
		Affect:  neutralState(),
	})
	if err != nil {
		t.Fatalf("Deliberate: %v", err)
	}

	if result.State != StateDone {
		t.Errorf("expected state done, got %s", result.State)
	}
	if result.Winner != PerspectiveExploratory {
		t.Errorf("expected exploratory winner, got %s", result.Winner)
	}
	if result.Text != "wild answer" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if len(result.Candidates) != 4 {
		t.Errorf("expected 4 candidates, got %d", len(result.Candidates))
	}
}

func TestDeliberatePostureUpweightsMatchingPerspective(t *testing.T) {
	// Cautious at 0.5 confidence beats analytic at 0.6 under a guarded
	// posture: 0.5*1.5 > 0.6*1.0.
	provider := &stubProvider{replies: map[Perspective]string{
		PerspectiveCautious: jsonReply("careful answer", 0.5),
		PerspectiveAnalytic: jsonReply("precise answer", 0.6),
	}}

	result, err := testEngine(provider).Deliberate(context.Background(), &Input{
		Message:      "can you change that file?",
		Affect:       &limbic.State{Posture: limbic.PostureGuarded},
		Perspectives: []Perspective{PerspectiveCautious, PerspectiveAnalytic},
	})
	if err != nil {
		t.Fatalf("Deliberate: %v", err)
	}
	if result.Winner != PerspectiveCautious {
		t.Errorf("expected cautious winner under guarded posture, got %s", result.Winner)
	}
}

func TestDeliberateToleratesPartialFailure(t *testing.T) {
	provider := &stubProvider{
		replies: map[Perspective]string{
			PerspectiveEmpathic: jsonReply("kind answer", 0.7),
		},
		errs: map[Perspective]error{
			PerspectiveCautious:    llm.ErrUnavailable,
			PerspectiveExploratory: llm.ErrTimeout,
			PerspectiveAnalytic:    llm.ErrUnavailable,
		},
	}

	result, err := testEngine(provider).Deliberate(context.Background(), &Input{
		Message: "hello",
		Affect:  neutralState(),
	})
	if err != nil {
		t.Fatalf("Deliberate: %v", err)
	}
	if result.Winner != PerspectiveEmpathic {
		t.Errorf("expected surviving perspective to win, got %s", result.Winner)
	}
	if len(result.Failed) != 3 {
		t.Errorf("expected 3 failed perspectives, got %d", len(result.Failed))
	}
}

func TestDeliberateExhausted(t *testing.T) {
	provider := &stubProvider{errs: map[Perspective]error{
		PerspectiveCautious:    llm.ErrUnavailable,
		PerspectiveExploratory: llm.ErrUnavailable,
		PerspectiveEmpathic:    llm.ErrUnavailable,
		PerspectiveAnalytic:    llm.ErrUnavailable,
	}}

	_, err := testEngine(provider).Deliberate(context.Background(), &Input{
		Message: "hello",
		Affect:  neutralState(),
	})
	if !errors.Is(err, ErrDeliberationExhausted) {
		t.Fatalf("expected ErrDeliberationExhausted, got %v", err)
	}
}

func TestDeliberateOverrideSkipsConvergence(t *testing.T) {
	provider := &stubProvider{replies: map[Perspective]string{
		PerspectiveAnalytic: jsonReply("forced answer", 0.3),
	}}

	result, err := testEngine(provider).Deliberate(context.Background(), &Input{
		Message:  "status report, now",
		Affect:   neutralState(),
		Override: PerspectiveAnalytic,
	})
	if err != nil {
		t.Fatalf("Deliberate: %v", err)
	}
	if result.State != StateOverridden {
		t.Errorf("expected overridden state, got %s", result.State)
	}
	if result.Text != "forced answer" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 provider call, got %d", got)
	}
}

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantText       string
		wantConfidence float64
	}{
		{
			name:           "clean json",
			raw:            `{"response": "hi", "confidence": 0.8}`,
			wantText:       "hi",
			wantConfidence: 0.8,
		},
		{
			name:           "json with surrounding prose",
			raw:            "Sure, here it is:\n{\"response\": \"hi\", \"confidence\": 0.8}\nDone.",
			wantText:       "hi",
			wantConfidence: 0.8,
		},
		{
			name:           "plain text fallback",
			raw:            "  just a plain reply  ",
			wantText:       "just a plain reply",
			wantConfidence: defaultConfidence,
		},
		{
			name:           "out of range confidence clamped to default",
			raw:            `{"response": "hi", "confidence": 3.0}`,
			wantText:       "hi",
			wantConfidence: defaultConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseCandidate(tt.raw)
			if c.Text != tt.wantText {
				t.Errorf("text: got %q, want %q", c.Text, tt.wantText)
			}
			if c.Confidence != tt.wantConfidence {
				t.Errorf("confidence: got %v, want %v", c.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestParseCandidateAction(t *testing.T) {
	c := parseCandidate(`{"response": "on it", "confidence": 0.9, "action": {"category": "file", "name": "write_note", "parameters": {"path": "notes.md"}}}`)
	if c.Action == nil {
		t.Fatal("expected action")
	}
	if c.Action.Category != "file" || c.Action.Name != "write_note" {
		t.Errorf("unexpected action %+v", c.Action)
	}
	if c.Action.Parameters["path"] != "notes.md" {
		t.Errorf("unexpected parameters %+v", c.Action.Parameters)
	}
}
