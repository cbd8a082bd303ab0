package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/middleware"
	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/logger"
)

// draftProvider resolves a workflow to its live draft
type draftProvider interface {
	GetOrCreateDraft(ctx context.Context, workflowID, userID uuid.UUID) (uuid.UUID, error)
}

// refinementOrchestrator is the slice of the orchestration engine the
// lifecycle handlers need
type refinementOrchestrator interface {
	CreateRefinementProposal(ctx context.Context, draftID, userID uuid.UUID, req *models.CreateRefinementRequest) (*models.Proposal, error)
	ApproveProposal(ctx context.Context, proposalID, userID uuid.UUID) error
	RejectProposal(ctx context.Context, proposalID, userID uuid.UUID) error
}

// RefinementHandler handles refinement proposal lifecycle requests
type RefinementHandler struct {
	workflows     workflowManager
	drafts        draftProvider
	orchestration refinementOrchestrator
	log           *logger.Logger
}

// NewRefinementHandler creates a new refinement handler
func NewRefinementHandler(workflows workflowManager, drafts draftProvider, orchestration refinementOrchestrator, log *logger.Logger) *RefinementHandler {
	return &RefinementHandler{
		workflows:     workflows,
		drafts:        drafts,
		orchestration: orchestration,
		log:           log,
	}
}

// Create starts a refinement for a workflow's draft
// POST /api/workflows/:id/refinements
func (h *RefinementHandler) Create(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
	}

	ctx := c.Request().Context()
	if _, err := h.workflows.Get(ctx, workflowID, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
		}
		h.log.Error("failed to check workflow access", "workflow_id", workflowID, "error", err)
		return respondError(c, err)
	}

	var req models.CreateRefinementRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	}

	draftID, err := h.drafts.GetOrCreateDraft(ctx, workflowID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
		}
		return respondError(c, err)
	}

	proposal, err := h.orchestration.CreateRefinementProposal(ctx, draftID, userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
		case errors.Is(err, models.ErrNotFound):
			return errorJSON(c, http.StatusNotFound, "Draft not found", "not_found")
		case errors.Is(err, models.ErrRuntimeUnavailable):
			return errorJSON(c, http.StatusServiceUnavailable, "AI service temporarily unavailable", "runtime_unavailable")
		default:
			h.log.Error("failed to create refinement proposal", "workflow_id", workflowID, "error", err)
			return errorJSON(c, http.StatusInternalServerError, "Failed to create refinement proposal", "internal_error")
		}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"proposal_id":   proposal.ID,
		"thread_id":     proposal.ThreadID,
		"status":        string(models.ProposalProcessing),
		"websocket_url": fmt.Sprintf("/api/ws/refinements/%s", proposal.ThreadID),
		"created_at":    proposal.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Approve applies a completed proposal's files to the draft
// POST /api/refinements/:proposal_id/approve
func (h *RefinementHandler) Approve(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	proposalID, err := uuid.Parse(c.Param("proposal_id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
	}

	if err := h.orchestration.ApproveProposal(c.Request().Context(), proposalID, userID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
		case errors.Is(err, models.ErrInvalidState):
			return errorJSON(c, http.StatusBadRequest, "Proposal is not ready for approval", "invalid_state")
		case errors.Is(err, models.ErrWorkflowLocked):
			return errorJSON(c, http.StatusBadRequest, "Workflow is locked", "workflow_locked")
		default:
			h.log.Error("failed to approve proposal", "proposal_id", proposalID, "error", err)
			return errorJSON(c, http.StatusInternalServerError, "Failed to approve proposal", "internal_error")
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"proposal_id": proposalID,
		"approved_at": time.Now().UTC().Format(time.RFC3339),
		"message":     "Proposal approved and changes applied to draft",
	})
}

// Reject discards a proposal without touching the draft
// POST /api/refinements/:proposal_id/reject
func (h *RefinementHandler) Reject(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	proposalID, err := uuid.Parse(c.Param("proposal_id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
	}

	if err := h.orchestration.RejectProposal(c.Request().Context(), proposalID, userID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return errorJSON(c, http.StatusNotFound, "Proposal not found", "not_found")
		case errors.Is(err, models.ErrInvalidState):
			return errorJSON(c, http.StatusBadRequest, "Proposal is already resolved", "invalid_state")
		default:
			h.log.Error("failed to reject proposal", "proposal_id", proposalID, "error", err)
			return errorJSON(c, http.StatusInternalServerError, "Failed to reject proposal", "internal_error")
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"proposal_id": proposalID,
		"message":     "Proposal rejected and discarded",
	})
}
