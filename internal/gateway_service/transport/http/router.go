package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindshift/ums-gateway/internal/gateway_service/app"
	"github.com/mindshift/ums-gateway/internal/gateway_service/auth"
)

// NewRouter assembles the gateway's HTTP surface: the authenticated /v1 API,
// the Prometheus endpoint and the health check.
func NewRouter(orchestrator *app.Orchestrator, authenticator *auth.Authenticator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(chi_middleware.Timeout(30 * time.Second))
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	messageHandler := NewMessageHandler(orchestrator, logger)
	preferenceHandler := NewPreferenceHandler(orchestrator, logger)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(AuthMiddleware(authenticator, logger))
		messageHandler.RegisterRoutes(v1)
		preferenceHandler.RegisterRoutes(v1)
	})

	return r
}
