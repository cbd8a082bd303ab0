package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/container"
	"github.com/draftwell/refinery/cmd/refinery/handlers"
	"github.com/draftwell/refinery/cmd/refinery/middleware"
	ratelimitmw "github.com/draftwell/refinery/common/middleware"
)

// RegisterRefinementRoutes registers the refinement lifecycle routes.
// Refinement creation is the expensive operation (it spawns an AI job), so
// it alone carries the rate limit middlewares.
func RegisterRefinementRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRefinementHandler(c.WorkflowService, c.DraftService, c.Orchestration, c.Components.Logger)
	p := handlers.NewProposalHandler(c.Orchestration, c.Components.Logger)

	authn := middleware.JWTAuth(c.JWT)

	createMiddleware := []echo.MiddlewareFunc{authn}
	if c.Limiter != nil {
		cfg := c.Components.Config.RateLimit
		limits := ratelimitmw.RateLimitConfig{
			PerUserLimit:     cfg.PerUserLimit,
			GlobalLimit:      cfg.GlobalLimit,
			WindowSeconds:    cfg.WindowSeconds,
			UserIDContextKey: middleware.UserIDKey,
		}
		createMiddleware = append(createMiddleware,
			ratelimitmw.GlobalRateLimit(c.Limiter, limits),
			ratelimitmw.UserRateLimit(c.Limiter, limits),
		)
	}

	e.POST("/api/workflows/:id/refinements", h.Create, createMiddleware...)
	e.POST("/api/refinements/:proposal_id/approve", h.Approve, authn)
	e.POST("/api/refinements/:proposal_id/reject", h.Reject, authn)
	e.GET("/api/proposals/:proposal_id", p.Get, authn)
}
