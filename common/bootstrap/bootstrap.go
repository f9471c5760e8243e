// Package bootstrap sequences the runtime's startup: config, logger,
// Redis client, optional Postgres execution store, optional OTLP tracer
// provider, following the teacher's common/bootstrap/bootstrap.go
// Setup()/Components/cleanupFuncs shape, adapted from the orchestrator's
// DB/queue/cache components to this runtime's Redis-centric dependency
// set (internal/lock, internal/consumer and internal/wsregistry all
// share one Redis client).
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/celerity/runtime-go/common/config"
	"github.com/celerity/runtime-go/common/db"
	"github.com/celerity/runtime-go/common/logger"
	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/internal/telemetry"
)

// Setup initializes every shared component a runtime node needs before
// it can construct its blueprint-driven subsystems.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"platform", components.Config.Service.Platform,
	)

	// 3. Initialize the shared Redis client (required: locks, consumer
	// stream source, and the wsregistry bus all depend on it).
	rawClient := redis.NewClient(&redis.Options{
		Addr:     components.Config.Redis.Addr,
		Password: components.Config.Redis.Password,
		DB:       components.Config.Redis.DB,
	})
	if err := rawClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	components.Redis = commonredis.NewClient(rawClient, components.Logger)
	components.addCleanup(func() error {
		components.Logger.Info("closing redis connection")
		return rawClient.Close()
	})

	// 4. Initialize the Postgres execution store (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 5. Initialize the OTLP tracer provider (if not skipped)
	if !options.skipTelemetry {
		components.Logger.Info("initializing telemetry",
			"otlp_endpoint", components.Config.Telemetry.OTLPCollectorEndpoint,
		)
		components.Telemetry, err = telemetry.New(ctx, telemetry.Config{
			ServiceName: serviceName,
			Endpoint:    components.Config.Telemetry.OTLPCollectorEndpoint,
			Insecure:    components.Config.Service.Platform == config.PlatformLocal,
		})
		if err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		} else {
			components.addCleanup(func() error {
				return components.Telemetry.Shutdown(context.Background())
			})
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. Useful for services that
// can't recover from initialization failure.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
