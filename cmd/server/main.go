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

	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/api"
	"github.com/irfndi/decoupling-detector/internal/cache"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/database"
	"github.com/irfndi/decoupling-detector/internal/logging"
	"github.com/irfndi/decoupling-detector/internal/metrics"
	"github.com/irfndi/decoupling-detector/internal/pricefile"
	"github.com/irfndi/decoupling-detector/internal/services"
	"github.com/irfndi/decoupling-detector/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	// Initialize telemetry first
	if err := telemetry.InitTelemetry(telemetryConfig(cfg)); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, cleanup, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	serverErr := make(chan error, 1)
	go func() {
		logging.LogStartup(logger, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logging.LogShutdown(logger, cfg.Telemetry.ServiceName, "signal received")
	}

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}

// newServer wires the price source, analysis service and router. cleanup
// closes every connection it opened.
func newServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*http.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	thresholds, err := cfg.Analysis.Thresholds()
	if err != nil {
		return nil, cleanup, err
	}
	analyzer, err := analysis.NewAnalyzer(thresholds)
	if err != nil {
		return nil, cleanup, err
	}
	requestTimeout, err := cfg.Server.Timeout()
	if err != nil {
		return nil, cleanup, err
	}

	registry := metrics.NewMetricsRegistry()
	retrier := services.NewRetrier(logger)

	deps := api.Dependencies{
		Config:  cfg,
		Metrics: registry,
		Logger:  logger,
	}

	var source services.PriceSource
	if cfg.Analysis.PriceFile != "" {
		fileSource, err := pricefile.OpenSource(cfg.Analysis.PriceFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to open price file: %w", err)
		}
		source = fileSource
		deps.Assets = fileSource
		deps.Source = "file"
		logger.WithField("path", cfg.Analysis.PriceFile).Info("Serving prices from file")
	} else {
		// Initialize database with retry mechanism
		var db *database.PostgresDB
		err := retrier.ExecuteWithRetry(ctx, services.OperationDatabaseConnect, func(ctx context.Context) error {
			var err error
			db, err = database.NewPostgresConnection(ctx, &cfg.Database)
			return err
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)

		repo := database.NewPriceRepository(database.NewTracedDB(db.Pool, logger))
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("failed to prepare schema: %w", err)
		}
		source = repo
		deps.Assets = repo
		deps.Database = db
		deps.Source = "database"

		if cfg.Redis.Enabled {
			// The cache is optional; analyses read the database when Redis is down
			redisClient, err := database.NewRedisConnection(ctx, cfg.Redis)
			if err != nil {
				logger.WithError(err).Warn("Price cache disabled")
			} else {
				closers = append(closers, redisClient.Close)
				ttl, err := cfg.Redis.TTL()
				if err != nil {
					return nil, cleanup, err
				}
				priceCache := cache.NewRedisPriceCache(redisClient.Client, ttl, logger)
				source = cache.NewCachedSource(repo, priceCache, time.Minute)
				deps.Cache = redisClient
				deps.CacheStats = priceCache
			}
		}
	}
	deps.Service = services.NewDecouplingService(source, analyzer, registry, logger).WithRetrier(retrier)

	// Setup Gin router
	router, err := api.NewRouter(deps)
	if err != nil {
		return nil, cleanup, err
	}

	// Create HTTP server with security timeouts
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      requestTimeout + 10*time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}, cleanup, nil
}

func telemetryConfig(cfg *config.Config) telemetry.TelemetryConfig {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Exporter = cfg.Telemetry.Exporter
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = cfg.Telemetry.ServiceVersion
	tc.Environment = cfg.Environment
	return *tc
}
