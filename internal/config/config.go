// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Bus backend selectors.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	HTTPPort    string

	// Statistics configuration
	EarthRadiusKM     float64
	MomentOrder       int // 2 = variance only, 4 = + skewness/kurtosis
	ShardCount        int
	PartialReadPolicy string // "fail" or "best-effort"
	BatchMaxPairs     int64

	// Event bus configuration
	BusBackend    string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	// Entity registry database (optional; empty host disables it)
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// OpenTelemetry configuration
	OTELEndpoint   string
	TracingEnabled bool

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "geostats-worker"),
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		PartialReadPolicy: getEnv("PARTIAL_READ_POLICY", "fail"),

		BusBackend:    getEnv("BUS_BACKEND", BusMemory),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisStream:   getEnv("REDIS_STREAM", "position-changes"),

		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "registry"),
		PostgresUser:     getEnv("POSTGRES_USER", "registry"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.EarthRadiusKM, err = parseFloat("EARTH_RADIUS_KM", "6371.0088")
	if err != nil {
		return nil, fmt.Errorf("invalid EARTH_RADIUS_KM: %w", err)
	}

	cfg.MomentOrder, err = parseInt("MOMENT_ORDER", "2")
	if err != nil {
		return nil, fmt.Errorf("invalid MOMENT_ORDER: %w", err)
	}
	if cfg.MomentOrder != 2 && cfg.MomentOrder != 4 {
		return nil, fmt.Errorf("invalid MOMENT_ORDER: must be 2 or 4, got %d", cfg.MomentOrder)
	}

	cfg.ShardCount, err = parseInt("SHARD_COUNT", "4")
	if err != nil {
		return nil, fmt.Errorf("invalid SHARD_COUNT: %w", err)
	}
	if cfg.ShardCount < 1 {
		return nil, fmt.Errorf("invalid SHARD_COUNT: must be >= 1, got %d", cfg.ShardCount)
	}

	maxPairs, err := parseInt("BATCH_MAX_PAIRS", "5000000")
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_MAX_PAIRS: %w", err)
	}
	cfg.BatchMaxPairs = int64(maxPairs)

	cfg.RedisDB, err = parseInt("REDIS_DB", "0")
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.TracingEnabled, err = parseBool("TRACING_ENABLED", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid TRACING_ENABLED: %w", err)
	}

	switch cfg.PartialReadPolicy {
	case "fail", "best-effort":
	default:
		return nil, fmt.Errorf("invalid PARTIAL_READ_POLICY: must be \"fail\" or \"best-effort\", got %q", cfg.PartialReadPolicy)
	}

	switch cfg.BusBackend {
	case BusMemory, BusRedis:
	default:
		return nil, fmt.Errorf("invalid BUS_BACKEND: must be %q or %q, got %q", BusMemory, BusRedis, cfg.BusBackend)
	}

	return cfg, nil
}

// RegistryEnabled reports whether an entity registry database is configured.
func (c *Config) RegistryEnabled() bool {
	return c.PostgresHost != ""
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloat parses a float64 from an environment variable or default value
func parseFloat(key, defaultValue string) (float64, error) {
	value := getEnv(key, defaultValue)
	return strconv.ParseFloat(value, 64)
}

// parseInt parses an int from an environment variable or default value
func parseInt(key, defaultValue string) (int, error) {
	value := getEnv(key, defaultValue)
	return strconv.Atoi(value)
}

// parseBool parses a bool from an environment variable or default value
func parseBool(key, defaultValue string) (bool, error) {
	value := getEnv(key, defaultValue)
	return strconv.ParseBool(value)
}
