package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/middleware"
	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/logger"
)

// workflowManager is the slice of the workflow service the handlers need
type workflowManager interface {
	Create(ctx context.Context, userID uuid.UUID, req *models.CreateWorkflowRequest) (*models.Workflow, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.Workflow, error)
	ApplyMergePatch(ctx context.Context, id, userID uuid.UUID, patch []byte) (*models.Workflow, error)
}

// WorkflowHandler handles workflow requests
type WorkflowHandler struct {
	workflows workflowManager
	log       *logger.Logger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows workflowManager, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, log: log}
}

// Create creates a workflow owned by the caller
// POST /api/workflows
func (h *WorkflowHandler) Create(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	var req models.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	}

	wf, err := h.workflows.Create(c.Request().Context(), userID, &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, wf)
}

// Get returns a workflow owned by the caller
// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
	}

	wf, err := h.workflows.Get(c.Request().Context(), workflowID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
		}
		h.log.Error("failed to get workflow", "workflow_id", workflowID, "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, wf)
}

// Patch applies an RFC 7386 merge patch to a workflow's name and description
// PATCH /api/workflows/:id
func (h *WorkflowHandler) Patch(c echo.Context) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	}

	wf, err := h.workflows.ApplyMergePatch(c.Request().Context(), workflowID, userID, patch)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Workflow not found", "not_found")
		}
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, wf)
}
