package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geofleet/geostats-worker/internal/batch"
	"github.com/geofleet/geostats-worker/internal/bus"
	"github.com/geofleet/geostats-worker/internal/config"
	"github.com/geofleet/geostats-worker/internal/consumer"
	"github.com/geofleet/geostats-worker/internal/httpapi"
	"github.com/geofleet/geostats-worker/internal/observability"
	"github.com/geofleet/geostats-worker/internal/query"
	"github.com/geofleet/geostats-worker/internal/registry"
	"github.com/geofleet/geostats-worker/internal/tracing"
)

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Msg("Starting geostats-worker service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("http_port", cfg.HTTPPort).
		Str("bus_backend", cfg.BusBackend).
		Int("shard_count", cfg.ShardCount).
		Int("moment_order", cfg.MomentOrder).
		Str("partial_read_policy", cfg.PartialReadPolicy).
		Float64("earth_radius_km", cfg.EarthRadiusKM).
		Msg("Configuration loaded")

	// Initialize tracing
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Initialize metrics
	metrics, err := observability.NewCollector(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	// Initialize the optional entity registry
	var reg *registry.Client
	if cfg.RegistryEnabled() {
		reg, err = registry.NewClient(cfg.DatabaseDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize registry client")
		}
		defer func() { _ = reg.Close() }()
		log.Info().Str("host", cfg.PostgresHost).Msg("Entity registry connected")
	} else {
		log.Info().Msg("No entity registry configured, batch-from-registry and reseed endpoints disabled")
	}

	// Initialize the event bus
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var eventBus bus.Bus
	switch cfg.BusBackend {
	case config.BusRedis:
		eventBus, err = bus.NewRedis(rootCtx, bus.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis event bus")
		}
		log.Info().Str("addr", cfg.RedisAddr).Str("stream", cfg.RedisStream).Msg("Redis event bus connected")
	default:
		eventBus = bus.NewMemory(0)
		log.Info().Msg("In-memory event bus initialized")
	}

	// Start the consumer pool
	pool := consumer.NewPool(consumer.Config{
		Shards:   cfg.ShardCount,
		Order:    cfg.MomentOrder,
		RadiusKM: cfg.EarthRadiusKM,
	}, eventBus, metrics, log.Logger)

	if err := pool.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer pool")
	}

	// Warm start: seed the shard accumulators from the registry snapshot so
	// statistics are available before the first event arrives.
	if reg != nil {
		seedCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
		entities, err := reg.LoadPositions(seedCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load position snapshot for warm start")
		}
		pool.ReseedAll(entities)
	}

	// Wire the query path and HTTP server
	policy, err := query.ParsePolicy(cfg.PartialReadPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid partial-read policy")
	}
	queryService := query.NewService(pool, policy, cfg.MomentOrder, metrics)
	aggregator := batch.New(cfg.EarthRadiusKM, cfg.MomentOrder, cfg.BatchMaxPairs)

	var regIface httpapi.PositionRegistry
	if reg != nil {
		regIface = reg
	}
	api := httpapi.NewServer(cfg.ServiceName, queryService, aggregator, eventBus, pool, regIface, metrics, log.Logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, gracefully stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting queries first, then drain the consumers.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if err := pool.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown consumer pool")
	}

	rootCancel()
	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event bus")
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown tracer")
	}

	log.Info().Msg("Service shutdown complete")
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
