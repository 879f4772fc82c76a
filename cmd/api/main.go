package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/dnc-propagation-backend/internal/api/rest"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/cache"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/config"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/database"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/audit"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/propagation"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/providers"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/removal"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Error("failed to load configuration", zap.Error(err))
		return err
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "dnc-propagation-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
		return err
	}

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", zap.Error(err))
		return err
	}
	defer redisClient.Close()

	requests := database.NewRequestRepository(pool)
	attempts := database.NewAttemptRepository(pool)
	events := database.NewEventRepository(pool)
	settings := database.NewProviderSettingRepository(pool)

	factory := providers.NewFactory(&cfg.Providers)
	retryLock := cache.NewPropagationLock(redisClient, cfg.Propagation.RetryLockTTL, logger)

	orchestrator := propagation.NewOrchestrator(
		logger, requests, attempts, events, settings,
		factory, retryLock,
		cfg.Propagation.MaxInFlightCalls, cfg.Propagation.CallTimeout,
	)

	workers := propagation.NewWorkerPool(logger, orchestrator, cfg.Propagation.Workers, cfg.Propagation.QueueSize)
	workers.Start(ctx)

	removalSvc := removal.NewService(logger, requests, attempts, events, settings, workers)
	auditor := audit.NewAuditor(logger, requests, attempts, events, settings, workers, cfg.Audit.StuckPendingAge)

	handler := rest.NewHandler(logger, removalSvc, orchestrator, auditor)
	router := rest.NewRouter(logger, handler)
	server := rest.NewServer(&cfg.Server, logger, router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("dnc propagation service started",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Environment),
		zap.Int("propagation_workers", cfg.Propagation.Workers))

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Let in-flight propagation finish before the pool and connections go away.
	workers.Stop()

	if otelProvider != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer otelCancel()
		if err := otelProvider.Shutdown(otelCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
