package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/app"
)

type MessageHandler struct {
	orchestrator *app.Orchestrator
	validate     *validator.Validate
	logger       *slog.Logger
}

func NewMessageHandler(orchestrator *app.Orchestrator, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		orchestrator: orchestrator,
		validate:     validator.New(),
		logger:       logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes on an authenticated router group.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSendMessage)
	r.Get("/messages", h.handleListMessages)
	r.Get("/messages/{requestID}", h.handleGetMessageStatus)
}

func (h *MessageHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeDomainError(w, logger, core_domain.ErrAuthentication)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode send request", "error", err)
		writeDomainError(w, logger, core_domain.NewValidationError(
			map[string]string{"body": "malformed JSON"}))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeDomainError(w, logger, validationError(err))
		return
	}

	cmd := toAcceptCommand(&req, r.Header.Get("Idempotency-Key"))
	result, err := h.orchestrator.AcceptMessage(ctx, tenant, cmd)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, SendMessageResponse{
		RequestID: result.Message.RequestID,
		Status:    string(result.Message.Status),
		Duplicate: result.Duplicate,
	})
}

func (h *MessageHandler) handleGetMessageStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeDomainError(w, logger, core_domain.ErrAuthentication)
		return
	}

	requestID := chi.URLParam(r, "requestID")
	msg, events, err := h.orchestrator.GetMessageStatus(ctx, tenant.ID, requestID)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageStatusResponse(msg, events))
}

func (h *MessageHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeDomainError(w, logger, core_domain.ErrAuthentication)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	var status *core_domain.MessageStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := core_domain.MessageStatus(raw)
		switch s {
		case core_domain.StatusPending, core_domain.StatusProcessing, core_domain.StatusSent,
			core_domain.StatusDelivered, core_domain.StatusFailed, core_domain.StatusExpired,
			core_domain.StatusCancelled:
			status = &s
		default:
			writeDomainError(w, logger, core_domain.NewValidationError(
				map[string]string{"status": "unknown message status"}))
			return
		}
	}

	msgs, total, err := h.orchestrator.ListMessages(ctx, tenant.ID, status, page, size)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}

	resp := MessageListResponse{Items: []MessageStatusResponse{}, Page: page, Size: size, TotalItems: total}
	for _, msg := range msgs {
		resp.Items = append(resp.Items, toMessageStatusResponse(msg, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAcceptCommand(req *SendMessageRequest, idempotencyKey string) *app.AcceptMessageCommand {
	cmd := &app.AcceptMessageCommand{
		Channel:      core_domain.ChannelType(req.Channel),
		TemplateCode: req.TemplateCode,
		Locale:       req.Locale,
		To: core_domain.Recipient{
			Phone:      req.To.Phone,
			Email:      req.To.Email,
			PushToken:  req.To.PushToken,
			ChatUserID: req.To.ChatUserID,
		},
		Variables:      req.Variables,
		Meta:           req.Meta,
		IdempotencyKey: idempotencyKey,
	}
	if req.Routing != nil {
		cmd.Routing = core_domain.Routing{
			Priority:   core_domain.Priority(req.Routing.Priority),
			TTLSeconds: req.Routing.TTLSeconds,
		}
		for _, fallback := range req.Routing.Fallback {
			cmd.Routing.Fallback = append(cmd.Routing.Fallback, core_domain.ChannelType(fallback))
		}
	}
	for _, att := range req.Attachments {
		cmd.Attachments = append(cmd.Attachments, core_domain.Attachment{
			Type:     att.Type,
			URL:      att.URL,
			Filename: att.Filename,
		})
	}
	return cmd
}

// validationError converts validator.v10 output into the uniform
// VALIDATION_ERROR envelope.
func validationError(err error) error {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return core_domain.NewValidationError(map[string]string{"request": err.Error()})
	}
	problems := make(map[string]string, len(fieldErrors))
	for _, fe := range fieldErrors {
		problems[fe.Field()] = "failed validation rule: " + fe.Tag()
	}
	return core_domain.NewValidationError(problems)
}
