package monologue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/llm"
)

const (
	defaultPerspectiveTimeout = 25 * time.Second
	defaultConfidence         = 0.5
)

// Engine runs deliberations against a generation provider.
type Engine struct {
	provider           llm.Provider
	perspectiveTimeout time.Duration
	metrics            *Metrics
	logger             *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithPerspectiveTimeout bounds each perspective's generation call.
func WithPerspectiveTimeout(d time.Duration) Option {
	return func(e *Engine) { e.perspectiveTimeout = d }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a deliberation engine.
func NewEngine(provider llm.Provider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider:           provider,
		perspectiveTimeout: defaultPerspectiveTimeout,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliberate runs the configured perspectives concurrently and converges on
// one candidate. When in.Override names a perspective, only that perspective
// runs and its output is forced.
func (e *Engine) Deliberate(ctx context.Context, in *Input) (*Result, error) {
	start := time.Now()

	perspectives := in.Perspectives
	if len(perspectives) == 0 {
		perspectives = AllPerspectives
	}
	if in.Override != "" {
		perspectives = []Perspective{in.Override}
	}

	candidates, failed := e.runPerspectives(ctx, in, perspectives)

	if len(candidates) == 0 {
		e.metrics.observeDeliberation("exhausted", time.Since(start))
		e.logger.WarnContext(ctx, "deliberation exhausted",
			slog.Int("perspectives", len(perspectives)),
		)
		return nil, fmt.Errorf("%w: %d perspectives attempted", ErrDeliberationExhausted, len(perspectives))
	}

	if in.Override != "" {
		c := candidates[0]
		e.metrics.observeDeliberation("overridden", time.Since(start))
		return &Result{
			State:      StateOverridden,
			Text:       c.Text,
			Winner:     c.Perspective,
			Confidence: c.Confidence,
			Action:     c.Action,
			Candidates: candidates,
			Failed:     failed,
		}, nil
	}

	winner := converge(candidates, in.Affect)

	e.metrics.observeDeliberation("converged", time.Since(start))
	e.logger.DebugContext(ctx, "deliberation converged",
		slog.String("winner", string(winner.Perspective)),
		slog.Float64("confidence", winner.Confidence),
		slog.Int("candidates", len(candidates)),
		slog.Int("failed", len(failed)),
	)

	return &Result{
		State:      StateDone,
		Text:       winner.Text,
		Winner:     winner.Perspective,
		Confidence: winner.Confidence,
		Action:     winner.Action,
		Candidates: candidates,
		Failed:     failed,
	}, nil
}

// runPerspectives evaluates each perspective concurrently. Results land in
// per-index slots so the goroutines share nothing mutable. A perspective
// failure is recorded, never fatal.
func (e *Engine) runPerspectives(ctx context.Context, in *Input, perspectives []Perspective) ([]Candidate, []Perspective) {
	slots := make([]*Candidate, len(perspectives))
	errs := make([]error, len(perspectives))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range perspectives {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, e.perspectiveTimeout)
			defer cancel()

			cand, err := e.runOne(pctx, in, p)
			if err != nil {
				errs[i] = err
				return nil
			}
			slots[i] = cand
			return nil
		})
	}
	_ = g.Wait()

	var candidates []Candidate
	var failed []Perspective
	for i, slot := range slots {
		if slot != nil {
			candidates = append(candidates, *slot)
			continue
		}
		failed = append(failed, perspectives[i])
		e.metrics.observePerspectiveFailure(perspectives[i])
		e.logger.WarnContext(ctx, "perspective failed",
			slog.String("perspective", string(perspectives[i])),
			slog.Any("error", errs[i]),
		)
	}
	return candidates, failed
}

func (e *Engine) runOne(ctx context.Context, in *Input, p Perspective) (*Candidate, error) {
	start := time.Now()

	resp, err := e.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: buildSystemPrompt(in, p),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: in.Message},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("perspective %s: %w", p, err)
	}

	cand := parseCandidate(resp.Content)
	cand.Perspective = p
	cand.Elapsed = time.Since(start)
	return cand, nil
}

// converge picks the candidate with the highest confidence-times-posture
// weight. Ties resolve to the earlier candidate, which follows perspective
// declaration order.
func converge(candidates []Candidate, affect *limbic.State) Candidate {
	best := candidates[0]
	bestWeight := convergenceWeight(best, affect)
	for _, c := range candidates[1:] {
		if w := convergenceWeight(c, affect); w > bestWeight {
			best = c
			bestWeight = w
		}
	}
	return best
}

func convergenceWeight(c Candidate, affect *limbic.State) float64 {
	weight := c.Confidence
	if affect != nil {
		weight *= postureWeight(affect.Posture, c.Perspective)
	}
	return weight
}

// postureWeight upweights the perspective that matches the current behavioral
// stance. Neutral postures weigh everything equally.
func postureWeight(posture limbic.Posture, p Perspective) float64 {
	boosted := map[limbic.Posture]Perspective{
		limbic.PostureGuarded:   PerspectiveCautious,
		limbic.PostureWithdrawn: PerspectiveCautious,
		limbic.PostureWarm:      PerspectiveEmpathic,
		limbic.PostureExuberant: PerspectiveExploratory,
		limbic.PosturePlayful:   PerspectiveExploratory,
		limbic.PostureAttentive: PerspectiveAnalytic,
	}
	if boosted[posture] == p {
		return 1.5
	}
	return 1.0
}

// candidatePayload is the JSON shape perspectives are prompted to emit.
type candidatePayload struct {
	Response   string          `json:"response"`
	Confidence float64         `json:"confidence"`
	Action     *ProposedAction `json:"action,omitempty"`
}

// parseCandidate extracts the structured payload from raw model output. When
// the model ignores the format, the raw text is used with a default
// confidence.
func parseCandidate(raw string) *Candidate {
	obj := extractJSONObject(raw)
	if obj != "" {
		var payload candidatePayload
		if err := json.Unmarshal([]byte(obj), &payload); err == nil && payload.Response != "" {
			conf := payload.Confidence
			if conf <= 0 || conf > 1 {
				conf = defaultConfidence
			}
			return &Candidate{
				Text:       payload.Response,
				Confidence: conf,
				Action:     payload.Action,
			}
		}
	}
	return &Candidate{
		Text:       strings.TrimSpace(raw),
		Confidence: defaultConfidence,
	}
}

// extractJSONObject finds the first balanced JSON object in the string.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, c := range s {
		if c == '{' {
			if start == -1 {
				start = i
			}
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
