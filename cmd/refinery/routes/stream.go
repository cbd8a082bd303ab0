package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/container"
)

// RegisterStreamRoutes registers the WebSocket streaming route. No auth
// middleware here: the proxy authenticates after the upgrade so browser
// clients observe a close code instead of a failed handshake.
func RegisterStreamRoutes(e *echo.Echo, c *container.Container) {
	e.GET("/api/ws/refinements/:thread_id", c.Proxy.Stream)
}
