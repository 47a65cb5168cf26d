package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	repoImpl "github.com/mindshift/ums-gateway/internal/gateway_service/repository/postgres"
	"github.com/mindshift/ums-gateway/internal/platform/config"
	"github.com/mindshift/ums-gateway/internal/platform/database"
	"github.com/mindshift/ums-gateway/internal/platform/logger"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
	"github.com/mindshift/ums-gateway/internal/recovery_service/app"
)

const serviceName = "recovery_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Recovery service starting",
		"poll_interval_seconds", cfg.RecoveryPollIntervalSeconds, "batch_size", cfg.RecoveryBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	if err := natsClient.EnsureStream(ctx); err != nil {
		appLogger.Error("Failed to ensure message stream", "error", err)
		os.Exit(1)
	}

	messageRepo := repoImpl.NewPgMessageRepository(dbPool, appLogger)
	eventRepo := repoImpl.NewPgMessageEventRepository(dbPool, appLogger)

	recoverer := app.NewRecoverer(messageRepo, eventRepo, natsClient, cfg.RecoveryBatchSize, appLogger)

	interval := time.Duration(cfg.RecoveryPollIntervalSeconds) * time.Second
	if err := recoverer.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Recovery service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Recovery service stopped")
}
