package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/draftwell/refinery/cmd/refinery/container"
	"github.com/draftwell/refinery/cmd/refinery/routes"
	"github.com/draftwell/refinery/common/bootstrap"
	"github.com/draftwell/refinery/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB, redis)
	components, err := bootstrap.Setup(ctx, "refinery")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap refinery: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, serviceContainer)

	// Block until the server exits or a shutdown signal drains it
	srv := server.New("refinery", components.Config.Service.Host, components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
	}

	// Let in-flight background cleanups finish before pools close
	serviceContainer.Orchestration.Wait()
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterHealthRoutes(e, serviceContainer)
	routes.RegisterAuthRoutes(e, serviceContainer)
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterRefinementRoutes(e, serviceContainer)
	routes.RegisterStreamRoutes(e, serviceContainer)
}
