package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/models"
)

// errorJSON writes the API error payload
func errorJSON(c echo.Context, status int, message, code string) error {
	return c.JSON(status, map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

// respondError maps domain errors onto the API error contract. Handlers with
// endpoint-specific messages match their cases first and fall back here.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrWorkflowLocked):
		return errorJSON(c, http.StatusBadRequest, "Workflow is locked", "workflow_locked")
	case errors.Is(err, models.ErrValidation):
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	case errors.Is(err, models.ErrInvalidState):
		return errorJSON(c, http.StatusBadRequest, "Invalid proposal state", "invalid_state")
	case errors.Is(err, models.ErrAccessDenied):
		return errorJSON(c, http.StatusForbidden, "Access denied", "access_denied")
	case errors.Is(err, models.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "Not found", "not_found")
	case errors.Is(err, models.ErrRuntimeUnavailable):
		return errorJSON(c, http.StatusServiceUnavailable, "AI service temporarily unavailable", "runtime_unavailable")
	default:
		return errorJSON(c, http.StatusInternalServerError, "Internal server error", "internal_error")
	}
}
