package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/container"
	"github.com/draftwell/refinery/cmd/refinery/handlers"
	"github.com/draftwell/refinery/cmd/refinery/middleware"
)

// RegisterWorkflowRoutes registers workflow CRUD routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.WorkflowService, c.Components.Logger)

	workflows := e.Group("/api/workflows", middleware.JWTAuth(c.JWT))
	{
		workflows.POST("", h.Create)     // POST /api/workflows
		workflows.GET("/:id", h.Get)     // GET /api/workflows/:id
		workflows.PATCH("/:id", h.Patch) // PATCH /api/workflows/:id
	}
}
