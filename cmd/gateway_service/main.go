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

	"golang.org/x/sync/errgroup"

	"github.com/mindshift/ums-gateway/internal/gateway_service/app"
	"github.com/mindshift/ums-gateway/internal/gateway_service/auth"
	"github.com/mindshift/ums-gateway/internal/gateway_service/idempotency"
	"github.com/mindshift/ums-gateway/internal/gateway_service/policy"
	"github.com/mindshift/ums-gateway/internal/gateway_service/ratelimit"
	repoImpl "github.com/mindshift/ums-gateway/internal/gateway_service/repository/postgres"
	"github.com/mindshift/ums-gateway/internal/gateway_service/templates"
	httptransport "github.com/mindshift/ums-gateway/internal/gateway_service/transport/http"
	"github.com/mindshift/ums-gateway/internal/platform/cache"
	"github.com/mindshift/ums-gateway/internal/platform/config"
	"github.com/mindshift/ums-gateway/internal/platform/database"
	"github.com/mindshift/ums-gateway/internal/platform/logger"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

const serviceName = "gateway_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Gateway service starting", "port", cfg.GatewayHTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis")

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
	appLogger.Info("Connected to NATS")

	messageRepo := repoImpl.NewPgMessageRepository(dbPool, appLogger)
	eventRepo := repoImpl.NewPgMessageEventRepository(dbPool, appLogger)
	tenantRepo := repoImpl.NewPgTenantRepository(dbPool, appLogger)
	templateRepo := repoImpl.NewPgTemplateRepository(dbPool, appLogger)
	prefRepo := repoImpl.NewPgRecipientPrefRepository(dbPool, appLogger)

	authenticator := auth.NewAuthenticator(tenantRepo,
		time.Duration(cfg.TenantCacheTTLMinutes)*time.Minute, appLogger)
	coordinator := idempotency.NewCoordinator(messageRepo,
		idempotency.NewRedisLeaseStore(redisClient), cfg.IdempotencyLeaseTTL(), appLogger)
	limiter := ratelimit.NewLimiter(redisClient, appLogger)
	templateEngine := templates.NewEngine(templateRepo,
		time.Duration(cfg.TemplateCacheTTLMinutes)*time.Minute, appLogger)
	policyChecker := policy.NewChecker(prefRepo,
		policy.NewRedisDailyCounterStore(redisClient), appLogger)

	orchestrator := app.NewOrchestrator(
		messageRepo, eventRepo, tenantRepo,
		coordinator, limiter, templateEngine, policyChecker, natsClient,
		cfg.DefaultTenantRateLimit, cfg.RecipientRateLimit,
		appLogger,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.GatewayHTTPPort),
		Handler:           httptransport.NewRouter(orchestrator, authenticator, appLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		appLogger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Gateway service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Gateway service stopped")
}
