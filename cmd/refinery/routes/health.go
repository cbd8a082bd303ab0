package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/container"
	"github.com/draftwell/refinery/cmd/refinery/handlers"
)

// RegisterHealthRoutes registers liveness and readiness probes, both at root
// for Kubernetes and under /api for clients behind the API prefix.
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components.DB, c.Components.Redis, c.Runtime)

	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.GET("/api/health", h.Health)
	e.GET("/api/ready", h.Ready)
}
