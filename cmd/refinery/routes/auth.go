package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/container"
	"github.com/draftwell/refinery/cmd/refinery/handlers"
)

// RegisterAuthRoutes registers the public authentication routes
func RegisterAuthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAuthHandler(c.AuthService, c.Components.Logger)

	e.POST("/api/auth/login", h.Login)
}
