package bootstrap

import (
	"context"
	"fmt"

	"github.com/celerity/runtime-go/common/config"
	"github.com/celerity/runtime-go/common/db"
	"github.com/celerity/runtime-go/common/logger"
	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/internal/telemetry"
)

// Components holds every dependency the runtime's cmd/ entrypoint needs
// before it can construct the blueprint-driven subsystems (consumer
// pools, lock manager, workflow engine, wsregistry, httpserver).
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	Redis     *commonredis.Client
	DB        *db.DB
	Telemetry *telemetry.Provider

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components, running
// cleanup functions in reverse (LIFO) registration order.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error
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

// Health checks health of all components that were initialized.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.GetUnderlying().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
