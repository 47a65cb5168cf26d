package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/app"
)

// PreferenceHandler exposes the recipient opt-out endpoints.
type PreferenceHandler struct {
	orchestrator *app.Orchestrator
	validate     *validator.Validate
	logger       *slog.Logger
}

func NewPreferenceHandler(orchestrator *app.Orchestrator, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		orchestrator: orchestrator,
		validate:     validator.New(),
		logger:       logger.With("handler", "preference"),
	}
}

func (h *PreferenceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/recipients/opt-out", h.handleOptOut)
	r.Post("/recipients/opt-in", h.handleOptIn)
}

func (h *PreferenceHandler) handleOptOut(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(tenantID string, req *OptOutRequest) error {
		return h.orchestrator.OptOutRecipient(r.Context(), tenantID, req.Recipient, req.Reason)
	})
}

func (h *PreferenceHandler) handleOptIn(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(tenantID string, req *OptOutRequest) error {
		return h.orchestrator.OptInRecipient(r.Context(), tenantID, req.Recipient)
	})
}

func (h *PreferenceHandler) handle(w http.ResponseWriter, r *http.Request, apply func(tenantID string, req *OptOutRequest) error) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeDomainError(w, logger, core_domain.ErrAuthentication)
		return
	}

	var req OptOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, logger, core_domain.NewValidationError(
			map[string]string{"body": "malformed JSON"}))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeDomainError(w, logger, validationError(err))
		return
	}

	if err := apply(tenant.ID, &req); err != nil {
		writeDomainError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
