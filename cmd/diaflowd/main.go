package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/diaflow/diaflow/common/bootstrap"
	"github.com/diaflow/diaflow/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "diaflowd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap diaflowd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, components)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "diaflowd",
		})
	})
}

// registerRoutes registers all application routes
func registerRoutes(e *echo.Echo, components *bootstrap.Components) {
	h := NewExecutionHandler(components)

	api := e.Group("/api/v1")
	api.POST("/diagrams/compile", h.CompileDiagram)
	api.POST("/executions", h.StartExecution)
	api.GET("/executions/:id", h.GetExecution)
	api.GET("/executions/:id/events", h.GetEvents)
	api.GET("/executions/:id/stream", h.StreamEvents)
	api.POST("/executions/:id/control", h.SendControl)
}

// startServer runs the Echo handler behind the graceful shutdown wrapper
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	srv := server.New("diaflowd", port, e, components.Logger)

	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
