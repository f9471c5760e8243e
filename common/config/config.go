// Package config loads the runtime's CELERITY_* environment surface
// (spec.md §6), following the teacher's common/config/config.go
// getEnv*-helper pattern: a typed Config struct built once at startup
// from plain os.Getenv lookups, validated before anything else boots.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RuntimePlatform enumerates CELERITY_RUNTIME_PLATFORM's allowed values.
type RuntimePlatform string

const (
	PlatformAWS   RuntimePlatform = "aws"
	PlatformAzure RuntimePlatform = "azure"
	PlatformGCP   RuntimePlatform = "gcp"
	PlatformLocal RuntimePlatform = "local"
	PlatformOther RuntimePlatform = "other"
)

// Config holds the runtime's full startup configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds the CELERITY_SERVICE_NAME/SERVER_* surface.
type ServiceConfig struct {
	Name         string
	Platform     RuntimePlatform
	Port         int
	LoopbackOnly bool
	TestMode     bool
	BlueprintPath string
	LogLevel     string
	LogFormat    string
}

// DatabaseConfig configures the Postgres-backed execution store
// (internal/executionstore), following the teacher's
// common/db/db.go pgxpool settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig configures the shared Redis client backing internal/lock,
// internal/consumer's stream source, and internal/wsregistry's bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig configures internal/metrics and internal/telemetry.
type TelemetryConfig struct {
	OTLPCollectorEndpoint string
	MetricsPort           int
}

// Load reads the runtime's environment surface per spec.md §6.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:          getEnv("CELERITY_SERVICE_NAME", serviceName),
			Platform:      RuntimePlatform(getEnv("CELERITY_RUNTIME_PLATFORM", string(PlatformLocal))),
			Port:          getEnvInt("CELERITY_SERVER_PORT", 8080),
			LoopbackOnly:  getEnvBool("CELERITY_SERVER_LOOPBACK_ONLY", false),
			TestMode:      getEnvBool("CELERITY_TEST_MODE", false),
			BlueprintPath: getEnv("CELERITY_BLUEPRINT", "blueprint.yaml"),
			LogLevel:      getEnv("CELERITY_LOG_LEVEL", "info"),
			LogFormat:     getEnv("CELERITY_LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("CELERITY_POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("CELERITY_POSTGRES_PORT", 5432),
			Database:    getEnv("CELERITY_POSTGRES_DB", "celerity"),
			User:        getEnv("CELERITY_POSTGRES_USER", "celerity"),
			Password:    getEnv("CELERITY_POSTGRES_PASSWORD", "celerity"),
			MaxConns:    getEnvInt("CELERITY_POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("CELERITY_POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("CELERITY_POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("CELERITY_POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CELERITY_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CELERITY_REDIS_PASSWORD", ""),
			DB:       getEnvInt("CELERITY_REDIS_DB", 0),
		},
		Telemetry: TelemetryConfig{
			OTLPCollectorEndpoint: getEnv("CELERITY_TRACE_OTLP_COLLECTOR_ENDPOINT", ""),
			MetricsPort:           getEnvInt("CELERITY_METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that must hold before the runtime starts
// accepting traffic.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid CELERITY_SERVER_PORT: %d", c.Service.Port)
	}
	switch c.Service.Platform {
	case PlatformAWS, PlatformAzure, PlatformGCP, PlatformLocal, PlatformOther:
	default:
		return fmt.Errorf("invalid CELERITY_RUNTIME_PLATFORM: %s", c.Service.Platform)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("CELERITY_POSTGRES_MAX_CONNS must be >= CELERITY_POSTGRES_MIN_CONNS")
	}
	return nil
}

// DatabaseURL returns the Postgres connection string for the execution
// store.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// VariableEnvLookup implements blueprint.EnvLookup over
// CELERITY_VARIABLE_<NAME> entries per spec.md §6.
func VariableEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// VariableEnvName maps a blueprint variable name to an upper-cased
// CELERITY_VARIABLE_ environment entry name. The blueprint loader does
// not upper-case: it looks up CELERITY_VARIABLE_ followed by the name
// exactly as written in the blueprint.
func VariableEnvName(name string) string {
	return "CELERITY_VARIABLE_" + strings.ToUpper(name)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}