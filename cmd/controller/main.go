// Package main is the entry point of the snakeplane ledger server. It serves
// the status API over the submission ledger, independent of any running host.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"snakeplane/internal/auth"
	"snakeplane/internal/backends"
	"snakeplane/internal/config"
	"snakeplane/internal/controller"
	"snakeplane/internal/controller/handlers"
	"snakeplane/internal/controller/middleware"
	"snakeplane/internal/logger"
	"snakeplane/internal/observability"
	"snakeplane/internal/registry"
	"snakeplane/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: none, environment only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Error("no database configured; set database_url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = ":6262"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres; pending migrations are applied on connect.
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("ledger schema ready", "version", db.SchemaVersion())

	telemetry, err := observability.Setup(ctx, cfg.Telemetry.ServiceName+"-controller", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			log.Warn("failed to shut down telemetry", "error", err)
		}
	}()

	// Queried only when scraped.
	meter := otel.Meter("snakeplane/controller")
	_, err = meter.Int64ObservableGauge("snakeplane.submissions.running",
		metric.WithDescription("Submissions recorded as running across all runs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := db.CountRunning(ctx)
			if err != nil {
				log.Warn("failed to count running submissions", "error", err)
				return nil
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Warn("failed to register running submissions metric", "error", err)
	}

	reg := registry.New(registry.WithLogger(log))
	if err := reg.Collect(ctx, backends.Builtin()); err != nil {
		log.Error("failed to load executor plugins", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(middleware.WithLimit(cfg.Status.RateLimit, cfg.Status.RateBurst))
	srv := controller.New(cfg.Status.Addr,
		handlers.Deps{Registry: reg, Ledger: db},
		telemetry.MetricsHandler,
		auth.NewKeySet(cfg.Status.APIKeys),
		limiter,
		log,
	)

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server exited properly", "shutdown_at", time.Now().UTC())
}
