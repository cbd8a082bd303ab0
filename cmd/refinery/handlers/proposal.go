package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/middleware"
	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/service"
	"github.com/draftwell/refinery/common/logger"
)

// proposalReader fetches proposals on behalf of an authorized user
type proposalReader interface {
	GetProposalForUser(ctx context.Context, proposalID, userID uuid.UUID) (*models.Proposal, error)
}

// ProposalHandler handles proposal read requests
type ProposalHandler struct {
	orchestration proposalReader
	log           *logger.Logger
}

// NewProposalHandler creates a new proposal handler
func NewProposalHandler(orchestration proposalReader, log *logger.Logger) *ProposalHandler {
	return &ProposalHandler{orchestration: orchestration, log: log}
}

// proposalResponse is the proposal record plus a flat audit summary
type proposalResponse struct {
	*models.Proposal
	AuditSummary map[string]interface{} `json:"audit_summary,omitempty"`
}

// Get returns a proposal with its generated files and audit summary
// GET /api/proposals/:proposal_id
func (h *ProposalHandler) Get(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	proposalID, err := uuid.Parse(c.Param("proposal_id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
	}

	proposal, err := h.orchestration.GetProposalForUser(c.Request().Context(), proposalID, userID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
		case errors.Is(err, models.ErrAccessDenied):
			return errorJSON(c, http.StatusForbidden, "Access denied to proposal", "access_denied")
		default:
			h.log.Error("failed to get proposal", "proposal_id", proposalID, "error", err)
			return respondError(c, err)
		}
	}

	return c.JSON(http.StatusOK, proposalResponse{
		Proposal:     proposal,
		AuditSummary: service.AuditSummary(proposal.AuditTrail),
	})
}
