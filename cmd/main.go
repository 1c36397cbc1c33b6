/**
 * @description
 * This is the main entry point for the subscription-service.
 * It initializes and wires together all the components of the application:
 * configuration, database pool and migrations, the Redis entitlement cache,
 * the RabbitMQ event producer, the cron sweeps, and the HTTP router.
 * Finally, it starts the HTTP server and handles graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/homevia/subscription-service/internal/api"
	"github.com/homevia/subscription-service/internal/app"
	"github.com/homevia/subscription-service/internal/config"
	"github.com/homevia/subscription-service/internal/migrations"
	"github.com/homevia/subscription-service/internal/store"
	"github.com/homevia/subscription-service/pkg/catalogclient"
	"github.com/homevia/subscription-service/pkg/entitlementcache"
	"github.com/homevia/subscription-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Apply schema migrations before opening the serving pool
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		logger.Error("failed to apply database migrations", "error", err)
		os.Exit(1)
	}

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Entitlement cache is optional; the service resolves from the database
	// on every call when Redis is not configured.
	var cache app.EntitlementCache
	if cfg.RedisURL != "" {
		redisCache, err := entitlementcache.New(cfg.RedisURL, time.Duration(cfg.EntitlementCacheTTLSeconds)*time.Second)
		if err != nil {
			logger.Warn("entitlement cache unavailable, continuing without it", "error", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
			logger.Info("entitlement cache connected")
		}
	}

	// Event producer; fall back to a logging no-op when the broker is down so
	// lifecycle operations keep working.
	var publisher rabbitmq.Publisher
	if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq unavailable, events will be logged only", "error", err)
		publisher = &rabbitmq.NoopPublisher{}
	} else {
		publisher = producer
	}
	defer publisher.Close()

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	catalog := catalogclient.NewClient(cfg.CatalogServiceURL, cfg.InternalAPIKey)
	service := app.NewService(repository, catalog, publisher, cache, logger, cfg.DefaultBillingDays)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.JWTSecret, cfg.InternalAPIKey)

	// Start the background sweeps
	jobs := app.NewJobs(repository, publisher, cache, logger, cfg.ExpiringSoonDays)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Stop scheduling new sweeps and let running ones finish
	<-scheduler.Stop().Done()

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
