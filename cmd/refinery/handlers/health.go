package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/common/redis"
)

// pinger is a dependency with a reachability check
type pinger interface {
	Health(ctx context.Context) error
}

// runtimeProber reports runtime reachability
type runtimeProber interface {
	IsHealthy(ctx context.Context) bool
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	db      pinger
	redis   pinger
	runtime runtimeProber
}

// NewHealthHandler creates a new health handler. The redis client may be nil
// when redis-backed features are not configured; the nil pointer is dropped
// here so the readiness check sees a nil interface.
func NewHealthHandler(database pinger, redisClient *redis.Client, runtime runtimeProber) *HealthHandler {
	h := &HealthHandler{
		db:      database,
		runtime: runtime,
	}
	if redisClient != nil {
		h.redis = redisClient
	}
	return h
}

// Health reports process liveness
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "refinery",
	})
}

// Ready reports whether the service can do useful work: database reachable,
// redis reachable when configured, runtime reachable. Degraded readiness
// returns 503 so orchestrators stop routing traffic here.
// GET /ready
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx := c.Request().Context()
	checks := map[string]string{}
	ready := true

	if err := h.db.Health(ctx); err != nil {
		checks["database"] = "unavailable"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Health(ctx); err != nil {
			checks["redis"] = "unavailable"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not_configured"
	}

	if h.runtime.IsHealthy(ctx) {
		checks["runtime"] = "ok"
	} else {
		checks["runtime"] = "unavailable"
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	return c.JSON(status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}
