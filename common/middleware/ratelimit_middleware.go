package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/common/ratelimit"
)

// RateLimitConfig controls the refinement rate limit middleware
type RateLimitConfig struct {
	PerUserLimit  int64
	GlobalLimit   int64
	WindowSeconds int

	// UserIDContextKey is the echo context key the auth middleware stores
	// the authenticated user id under. UserRateLimit reads it; wiring must
	// pass the auth middleware's own constant so the two can never drift.
	UserIDContextKey string
}

// GlobalRateLimit checks the service-wide refinement limit.
// Limiter errors allow the request through (fail open for availability).
func GlobalRateLimit(limiter *ratelimit.RateLimiter, cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckGlobalLimit(c.Request().Context(), cfg.GlobalLimit, cfg.WindowSeconds)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error": "Service is experiencing high load. Please try again later.",
					"code":  "global_rate_limit_exceeded",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              fmt.Sprintf("%d seconds", cfg.WindowSeconds),
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// UserRateLimit checks per-user refinement limits. Requires the user id to be
// set in context by the auth middleware; unauthenticated requests pass
// through untouched since auth rejects them later anyway.
func UserRateLimit(limiter *ratelimit.RateLimiter, cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := c.Get(cfg.UserIDContextKey).(string)
			if !ok || userID == "" {
				return next(c)
			}

			result, err := limiter.CheckUserLimit(c.Request().Context(), userID, cfg.PerUserLimit, cfg.WindowSeconds)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error": "You have exceeded your refinement quota. Please wait before trying again.",
					"code":  "user_rate_limit_exceeded",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              fmt.Sprintf("%d seconds", cfg.WindowSeconds),
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
