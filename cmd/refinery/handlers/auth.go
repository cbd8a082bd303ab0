package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/logger"
)

// authenticator is the slice of the auth service the handler needs
type authenticator interface {
	Login(ctx context.Context, email, password string) (string, *models.User, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	auth authenticator
	log  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth authenticator, log *logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

// Login authenticates a user and returns a bearer token
// POST /api/auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	}
	if req.Email == "" || req.Password == "" {
		return errorJSON(c, http.StatusBadRequest, "Invalid request", "invalid_request")
	}

	token, user, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrAccessDenied) {
			return errorJSON(c, http.StatusUnauthorized, "Invalid credentials", "invalid_credentials")
		}
		h.log.Error("login failed", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":   token,
		"user_id": user.ID,
	})
}
