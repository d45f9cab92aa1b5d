package httpapi

import (
	"log/slog"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/nafsi/internal/domain"
)

// SSEEvent represents a server-sent event for streaming turn responses.
type SSEEvent struct {
	Type     string `json:"type"`               // "text", "side_effect", "done", "error"
	Content  string `json:"content,omitempty"`  // Text content.
	ActionID string `json:"action_id,omitempty"`
	Category string `json:"category,omitempty"`
	Decision string `json:"decision,omitempty"`
	Posture  string `json:"posture,omitempty"`
}

// handleTurnStream handles POST /v1/turn/stream with SSE responses.
// Runs the turn and streams the result as server-sent events: gate rulings
// first, then the synthesized text, then done.
func (g *Gateway) handleTurnStream(c *okapi.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ExternalID == "" {
		return c.AbortBadRequest("external_id is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(req.ExternalID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	correlationID := newCorrelationID()

	counterpart, err := g.engine.Resolve(c.Context(), req.ExternalID, req.Name)
	if err != nil {
		g.logger.Error("counterpart resolution failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.SSEvent("error", SSEEvent{Content: "counterpart resolution failed"})
		return nil
	}

	result, err := g.engine.HandleTurn(c.Context(), &domain.TurnRequest{
		CounterpartID: counterpart.ID,
		Message:       req.Message,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Override:      req.Override,
	})
	if err != nil {
		g.logger.Error("turn failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.SSEvent("error", SSEEvent{Content: "turn failed"})
		return nil
	}

	for _, se := range result.SideEffects {
		c.SSEvent("side_effect", SSEEvent{
			ActionID: se.ActionID.String(),
			Category: se.Category,
			Decision: se.Decision,
		})
	}
	if result.Text != "" {
		c.SSEvent("text", SSEEvent{Content: result.Text, Posture: result.Posture})
	}
	c.SSEvent("done", SSEEvent{Type: "done"})
	return nil
}
