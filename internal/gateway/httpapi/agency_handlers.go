package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/nafsi/internal/agency"
)

func (g *Gateway) registerAgencyRoutes() {
	g.group.Get("/advisories", g.handleAdvisoryList,
		okapi.DocSummary("List pending advisory proposals for a counterpart"),
		okapi.DocTags("Agency"),
		okapi.DocResponse([]ProposalResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Post("/advisories/{id}/confirm", g.handleAdvisoryConfirm,
		okapi.DocSummary("Confirm a pending proposal and execute the action"),
		okapi.DocTags("Agency"),
		okapi.DocPathParam("id", "string", "Proposal ID (UUID)"),
		okapi.DocRequestBody(ResolveRequest{}),
		okapi.DocResponse(SideEffectBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusGone, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/advisories/{id}/reject", g.handleAdvisoryReject,
		okapi.DocSummary("Reject a pending proposal"),
		okapi.DocTags("Agency"),
		okapi.DocPathParam("id", "string", "Proposal ID (UUID)"),
		okapi.DocRequestBody(ResolveRequest{}),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/actions/{id}/rollback", g.handleActionRollback,
		okapi.DocSummary("Undo an executed action via its rollback descriptor"),
		okapi.DocTags("Agency"),
		okapi.DocPathParam("id", "string", "Action ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/actions/{id}/confirm", g.handleActionConfirm,
		okapi.DocSummary("Confirm an executed action was beneficial"),
		okapi.DocTags("Agency"),
		okapi.DocPathParam("id", "string", "Action ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/audit", g.handleAuditList,
		okapi.DocSummary("List agency gate rulings for a counterpart"),
		okapi.DocTags("Agency"),
		okapi.DocResponse([]AuditEventResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
}

// ProposalResponse is one pending advisory proposal.
type ProposalResponse struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	Name          string         `json:"name"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// ResolveRequest carries the identity of whoever resolved a proposal.
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (g *Gateway) handleAdvisoryList(c *okapi.Context) error {
	externalID := c.Request().URL.Query().Get("external_id")
	if externalID == "" {
		return c.AbortBadRequest("external_id is required")
	}

	counterpart, err := g.engine.Resolve(c.Context(), externalID, "")
	if err != nil {
		return c.AbortInternalServerError("counterpart resolution failed")
	}

	proposals := g.gate.Advisory().List(c.Context(), counterpart.ID)
	resp := make([]ProposalResponse, 0, len(proposals))
	for _, p := range proposals {
		resp = append(resp, ProposalResponse{
			ID:            p.ID.String(),
			Category:      p.Category,
			Name:          p.Name,
			Parameters:    p.Parameters,
			CorrelationID: p.CorrelationID,
			CreatedAt:     p.CreatedAt,
			ExpiresAt:     p.ExpiresAt,
		})
	}
	return c.OK(resp)
}

func (g *Gateway) handleAdvisoryConfirm(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid proposal ID")
	}
	var req ResolveRequest
	_ = c.Bind(&req)

	g.logger.Info("advisory confirm",
		slog.String("proposal_id", id.String()),
		slog.String("resolved_by", req.ResolvedBy),
	)

	effect, err := g.gate.ConfirmProposal(c.Context(), id, req.ResolvedBy)
	if err != nil {
		return proposalError(c, err)
	}
	return c.OK(SideEffectBody{
		ActionID: effect.ActionID.String(),
		Category: effect.Category,
		Name:     effect.Name,
		Decision: effect.Decision,
		Executed: effect.Executed,
		Output:   effect.Output,
		Error:    effect.Error,
		Rollback: effect.Rollback,
	})
}

func (g *Gateway) handleAdvisoryReject(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid proposal ID")
	}
	var req ResolveRequest
	_ = c.Bind(&req)

	if err := g.gate.RejectProposal(c.Context(), id, req.ResolvedBy); err != nil {
		return proposalError(c, err)
	}
	return c.OK(map[string]string{"status": "rejected"})
}

func (g *Gateway) handleActionRollback(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid action ID")
	}

	g.logger.Info("action rollback", slog.String("action_id", id.String()))

	if err := g.gate.RollbackAction(c.Context(), id); err != nil {
		if errors.Is(err, agency.ErrActionNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "action not found"})
		}
		g.logger.Error("rollback failed",
			slog.String("action_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("rollback failed")
	}
	return c.OK(map[string]string{"status": "rolled_back"})
}

func (g *Gateway) handleActionConfirm(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid action ID")
	}

	if err := g.gate.ConfirmBeneficial(c.Context(), id); err != nil {
		if errors.Is(err, agency.ErrActionNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "action not found"})
		}
		return c.AbortInternalServerError("confirmation failed")
	}
	return c.OK(map[string]string{"status": "confirmed"})
}

// AuditEventResponse is one agency gate ruling.
type AuditEventResponse struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Name         string    `json:"name,omitempty"`
	Decision     string    `json:"decision"`
	Tier         int       `json:"tier"`
	RequiredTier int       `json:"required_tier"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (g *Gateway) handleAuditList(c *okapi.Context) error {
	query := c.Request().URL.Query()
	externalID := query.Get("external_id")
	if externalID == "" {
		return c.AbortBadRequest("external_id is required")
	}
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.AbortBadRequest("invalid limit")
		}
		limit = parsed
	}

	counterpart, err := g.engine.Resolve(c.Context(), externalID, "")
	if err != nil {
		return c.AbortInternalServerError("counterpart resolution failed")
	}

	events, err := g.audit.List(c.Context(), counterpart.ID, limit)
	if err != nil {
		return c.AbortInternalServerError("audit listing failed")
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, AuditEventResponse{
			ID:           e.ID.String(),
			Category:     e.Category,
			Name:         e.Name,
			Decision:     string(e.Decision),
			Tier:         int(e.Tier),
			RequiredTier: int(e.RequiredTier),
			Detail:       e.Detail,
			CreatedAt:    e.CreatedAt,
		})
	}
	return c.OK(resp)
}

// proposalError maps advisory queue errors to HTTP responses.
func proposalError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, agency.ErrProposalNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "proposal not found"})
	case errors.Is(err, agency.ErrProposalExpired):
		return c.JSON(http.StatusGone, okapi.M{"error": "proposal expired"})
	case errors.Is(err, agency.ErrProposalAlreadyResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "proposal already resolved"})
	default:
		return c.AbortInternalServerError("proposal error")
	}
}
