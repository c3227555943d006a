package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/imaxisXD/ndle-worker/internal/background"
	"github.com/imaxisXD/ndle-worker/internal/cache"
	"github.com/imaxisXD/ndle-worker/internal/config"
	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
	"github.com/imaxisXD/ndle-worker/internal/health"
	"github.com/imaxisXD/ndle-worker/internal/link"
	"github.com/imaxisXD/ndle-worker/internal/resolver"
	"github.com/imaxisXD/ndle-worker/internal/server"
	"github.com/imaxisXD/ndle-worker/internal/telemetry"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Redis   *goredis.Client
	Cache   *cache.Ristretto
	Runner  *background.Runner
	Server  *server.Server
	Handler *resolver.Handler
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application", "env", cfg.App.Environment)

	// Connect to the link store
	rdb, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store, err := link.NewRedisStore(rdb)
	if err != nil {
		return nil, fmt.Errorf("failed to create link store: %w", err)
	}

	// In-process edge cache for resolved redirects
	edge, err := cache.NewRistretto(cache.RistrettoConfig{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create edge cache: %w", err)
	}

	// Deferred-work plumbing: outbound HTTP, probing, telemetry fan-out
	httpClient := &http.Client{Timeout: cfg.Telemetry.Timeout}

	var ingest *telemetry.IngestClient
	if cfg.Telemetry.Enabled() {
		ingest = telemetry.NewIngestClient(httpClient, cfg.Telemetry.IngestEndpoints, cfg.Telemetry.BearerToken, logger)
	}
	mutation := telemetry.NewMutationClient(httpClient, cfg.Mutation.URL, cfg.Mutation.SharedSecret)
	prober := health.NewProber(&http.Client{Timeout: health.ProbeTimeout}, cfg.Health.SelfHost)
	dispatcher := telemetry.NewDispatcher(ingest, mutation, prober, logger)
	runner := background.NewRunner(logger)

	// Request pipeline
	res := resolver.New(store, edge, logger)
	fp := fingerprint.New(store, logger)
	handler := resolver.NewHandler(resolver.HandlerConfig{
		Resolver:      res,
		Fingerprinter: fp,
		Dispatcher:    dispatcher,
		Runner:        runner,
		Logger:        logger,
	})

	// Create server
	srv := server.New(cfg, logger, handler, runner)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"telemetry_enabled", cfg.Telemetry.Enabled(),
		"health_probing_enabled", mutation.Enabled(),
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Redis:   rdb,
		Cache:   edge,
		Runner:  runner,
		Server:  srv,
		Handler: handler,
	}, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		} else {
			a.Logger.Info("redis connection closed")
		}
	}

	if a.Cache != nil {
		a.Cache.Close()
	}

	return nil
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectRedis establishes a connection to the Redis link store.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	logger.Info("connecting to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established")

	return rdb, nil
}
