package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/adapters/channel"
	"github.com/mindshift/ums-gateway/internal/delivery_service/app"
	"github.com/mindshift/ums-gateway/internal/delivery_service/provider"
	repoImpl "github.com/mindshift/ums-gateway/internal/gateway_service/repository/postgres"
	"github.com/mindshift/ums-gateway/internal/platform/config"
	"github.com/mindshift/ums-gateway/internal/platform/database"
	"github.com/mindshift/ums-gateway/internal/platform/logger"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

const serviceName = "delivery_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Delivery service starting")

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

	router := app.NewRouter(buildAdapters(cfg, appLogger)...)
	processor := app.NewProcessor(messageRepo, eventRepo, router, natsClient, cfg.ProviderTimeout(), appLogger)
	statusConsumer := app.NewStatusConsumer(messageRepo, eventRepo, natsClient, appLogger)

	stopRequested, err := natsClient.Consume(ctx,
		messagebroker.SubjectMessageRequested, "delivery-processor", processor.HandleRequested)
	if err != nil {
		appLogger.Error("Failed to start requested consumer", "error", err)
		os.Exit(1)
	}
	defer stopRequested()

	stopStatus, err := natsClient.Consume(ctx,
		messagebroker.SubjectMessageDelivery, "delivery-status", statusConsumer.HandleDeliveryStatus)
	if err != nil {
		appLogger.Error("Failed to start status consumer", "error", err)
		os.Exit(1)
	}
	defer stopStatus()

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.DeliveryMetricsPort),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Delivery service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Delivery service stopped")
}

// buildAdapters assembles one adapter per channel from configuration. In mock
// mode every channel without a configured upstream gets a simulated one, so a
// full local stack runs with no external accounts.
func buildAdapters(cfg *config.Config, appLogger *slog.Logger) []channel.Adapter {
	var adapters []channel.Adapter

	smsProviders := []provider.Provider{
		provider.NewHTTPSMSProvider(appLogger, "sms-primary", cfg.SMSPrimaryURL, cfg.SMSPrimaryAPIKey, 10, nil),
		provider.NewHTTPSMSProvider(appLogger, "sms-secondary", cfg.SMSSecondaryURL, cfg.SMSSecondaryAPIKey, 5, nil),
	}
	if cfg.EnableMockProviders {
		smsProviders = append(smsProviders, provider.NewMockProvider(appLogger, "sms-mock", 1, 0, 5, 25))
	}
	adapters = append(adapters, channel.NewSMSAdapter(
		provider.NewFallbackManager(smsProviders, cfg.SMSPreferredProvider, appLogger)))

	if cfg.EmailRelayURL != "" {
		adapters = append(adapters, channel.NewEmailAdapter(appLogger, cfg.EmailRelayURL, cfg.EmailRelayAPIKey, nil))
	} else if cfg.EnableMockProviders {
		adapters = append(adapters, channel.NewMockAdapter(appLogger, core_domain.ChannelEmail, 0))
	}

	if cfg.ChatAPIURL != "" {
		adapters = append(adapters, channel.NewChatAdapter(appLogger, cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.ChatSenderKey, nil))
	} else if cfg.EnableMockProviders {
		adapters = append(adapters, channel.NewMockAdapter(appLogger, core_domain.ChannelChat, 0))
	}

	if cfg.PushAPIURL != "" {
		adapters = append(adapters, channel.NewPushAdapter(appLogger, cfg.PushAPIURL, cfg.PushAPIKey, nil))
	} else if cfg.EnableMockProviders {
		adapters = append(adapters, channel.NewMockAdapter(appLogger, core_domain.ChannelPush, 0))
	}

	return adapters
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
