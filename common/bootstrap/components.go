package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/diaflow/diaflow/common/config"
	"github.com/diaflow/diaflow/common/logger"
	"github.com/diaflow/diaflow/engine"
	"github.com/diaflow/diaflow/router"
	"github.com/diaflow/diaflow/services"
	"github.com/diaflow/diaflow/store"
)

// Components holds all initialized engine dependencies
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	Store   store.Store
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	Archive *store.Archive
	Bundle  *services.Bundle
	Router  *router.Router
	Engine  *engine.Engine

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components.
// Should be called with defer after Setup().
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of the stateful components
func (c *Components) Health(ctx context.Context) error {
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	if c.Pool != nil {
		if err := c.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
