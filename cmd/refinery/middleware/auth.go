package middleware

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/clients"
)

const (
	// UserIDKey is the context key for the authenticated user's id
	UserIDKey = "user_id"
	// UsernameKey is the context key for the authenticated user's name
	UsernameKey = "username"
)

// JWTAuth validates the bearer token and stores the authenticated identity
// in the request context. Tokens are read from the Authorization header or,
// for WebSocket clients, the `token` query parameter.
func JWTAuth(manager *auth.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.ExtractToken(c.Request())
			if token == "" {
				return unauthorized(c)
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				return unauthorized(c)
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(UsernameKey, claims.Username)

			// Outbound runtime calls made under this request forward the
			// caller's identity as X-User-ID.
			ctx := clients.WithUserID(c.Request().Context(), claims.UserID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": "Unauthorized",
		"code":  "unauthorized",
	})
}

// CurrentUserID returns the authenticated user's id from the request context
func CurrentUserID(c echo.Context) (uuid.UUID, error) {
	raw, _ := c.Get(UserIDKey).(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("no authenticated user in context")
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in context: %w", err)
	}
	return userID, nil
}

// CurrentUsername returns the authenticated user's name, or "" when unset
func CurrentUsername(c echo.Context) string {
	username, _ := c.Get(UsernameKey).(string)
	return username
}
