package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/ratelimit"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

// AcceptMessageCommand is the admission input after authentication. TenantID
// is taken from the authenticated tenant, never from the request body.
type AcceptMessageCommand struct {
	Channel        core_domain.ChannelType
	TemplateCode   string
	Locale         string
	To             core_domain.Recipient
	Variables      map[string]string
	Routing        core_domain.Routing
	Attachments    []core_domain.Attachment
	Meta           map[string]any
	IdempotencyKey string
}

// AcceptResult is the admission outcome. Duplicate marks an idempotent
// replay: the message was admitted by an earlier request.
type AcceptResult struct {
	Message   *core_domain.Message
	Duplicate bool
}

// EventPublisher is the bus hand-off, satisfied by messagebroker.Client.
type EventPublisher interface {
	Publish(ctx context.Context, subject, key string, payload []byte) error
}

// IdempotencyCoordinator guards duplicate admission, satisfied by
// idempotency.Coordinator.
type IdempotencyCoordinator interface {
	CheckAndLock(ctx context.Context, key, tenantID string) (*core_domain.Message, error)
	Release(ctx context.Context, key string)
}

// RateLimiter is the token-bucket gate, satisfied by ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, subject, limitType string, requestsPerHour int) ratelimit.Result
}

// TemplateEngine resolves and renders templates, satisfied by
// templates.Engine.
type TemplateEngine interface {
	Load(ctx context.Context, tenantID, code string, channel core_domain.ChannelType, locale string) (*core_domain.Template, error)
	Validate(tmpl *core_domain.Template, vars map[string]string) error
	Render(tmpl *core_domain.Template, vars map[string]string) (title, body string)
}

// PolicyChecker enforces recipient policy, satisfied by policy.Checker.
type PolicyChecker interface {
	Check(ctx context.Context, tenantID, recipientKey string, channel core_domain.ChannelType, priority core_domain.Priority) error
	RecordMessageSent(ctx context.Context, tenantID, recipientKey string)
	OptOut(ctx context.Context, tenantID, recipientKey, reason string) error
	OptIn(ctx context.Context, tenantID, recipientKey string) error
}

// Orchestrator runs the synchronous admission pipeline and the read-side
// queries. Everything after admission happens asynchronously behind the bus.
type Orchestrator struct {
	messages    repository.MessageRepository
	events      repository.MessageEventRepository
	tenants     repository.TenantRepository
	idempotency IdempotencyCoordinator
	limiter     RateLimiter
	templates   TemplateEngine
	policy      PolicyChecker
	bus         EventPublisher
	logger      *slog.Logger

	defaultTenantLimit int
	recipientLimit     int
}

func NewOrchestrator(
	messages repository.MessageRepository,
	events repository.MessageEventRepository,
	tenants repository.TenantRepository,
	idem IdempotencyCoordinator,
	limiter RateLimiter,
	tmpl TemplateEngine,
	pol PolicyChecker,
	bus EventPublisher,
	defaultTenantLimit, recipientLimit int,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		messages:           messages,
		events:             events,
		tenants:            tenants,
		idempotency:        idem,
		limiter:            limiter,
		templates:          tmpl,
		policy:             pol,
		bus:                bus,
		defaultTenantLimit: defaultTenantLimit,
		recipientLimit:     recipientLimit,
		logger:             logger.With("component", "gateway_orchestrator"),
	}
}

// AcceptMessage runs the full admission sequence for one message request:
// idempotency, field validation, tenant gates, rate limits, recipient policy,
// template rendering, credit consumption, persistence and the bus hand-off.
// On success the message is PENDING and queued; delivery is asynchronous.
func (o *Orchestrator) AcceptMessage(ctx context.Context, tenant *core_domain.Tenant, cmd *AcceptMessageCommand) (*AcceptResult, error) {
	start := time.Now()
	result, err := o.acceptMessage(ctx, tenant, cmd)
	admissionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		var de *core_domain.DomainError
		if errors.As(err, &de) {
			admissionRejectionsTotal.WithLabelValues(de.Code).Inc()
		} else {
			admissionRejectionsTotal.WithLabelValues(core_domain.ErrInternal.Code).Inc()
		}
		return nil, err
	}
	if result.Duplicate {
		idempotentReplaysTotal.Inc()
	} else {
		messagesAcceptedTotal.WithLabelValues(string(result.Message.Channel)).Inc()
	}
	return result, nil
}

func (o *Orchestrator) acceptMessage(ctx context.Context, tenant *core_domain.Tenant, cmd *AcceptMessageCommand) (*AcceptResult, error) {
	if cmd.IdempotencyKey != "" {
		existing, err := o.idempotency.CheckAndLock(ctx, cmd.IdempotencyKey, tenant.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &AcceptResult{Message: existing, Duplicate: true}, nil
		}
		defer o.idempotency.Release(ctx, cmd.IdempotencyKey)
	}

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if !tenant.AllowsChannel(cmd.Channel) {
		return nil, core_domain.ErrChannelNotAllowed
	}

	tenantLimit := tenant.RateLimit(ratelimit.LimitTypeTenant)
	if tenantLimit <= 0 {
		tenantLimit = o.defaultTenantLimit
	}
	if res := o.limiter.Check(ctx, tenant.ID, ratelimit.LimitTypeTenant, tenantLimit); !res.Allowed {
		return nil, core_domain.NewRateLimitError("tenant", res.Remaining, res.ResetAt.Unix())
	}

	recipientKey := cmd.To.Key()
	if res := o.limiter.Check(ctx, recipientKey, ratelimit.LimitTypeRecipient, o.recipientLimit); !res.Allowed {
		return nil, core_domain.NewRateLimitError("recipient", res.Remaining, res.ResetAt.Unix())
	}

	tmpl, err := o.templates.Load(ctx, tenant.ID, cmd.TemplateCode, cmd.Channel, cmd.Locale)
	if err != nil {
		return nil, err
	}
	if err := o.templates.Validate(tmpl, cmd.Variables); err != nil {
		return nil, err
	}
	title, body := o.templates.Render(tmpl, cmd.Variables)

	priority := cmd.Routing.Priority
	if priority == "" {
		priority = core_domain.PriorityNormal
	}
	if err := o.policy.Check(ctx, tenant.ID, recipientKey, cmd.Channel, priority); err != nil {
		return nil, err
	}

	if !tenant.HasCredits() {
		return nil, core_domain.ErrInsufficientCredits
	}
	consumed, err := o.tenants.ConsumeCredit(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("consume credit: %w", err)
	}
	if !consumed {
		return nil, core_domain.ErrInsufficientCredits
	}

	msg := o.buildMessage(tenant, cmd, tmpl, title, body, priority)
	if err := o.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent identical request.
			if existing, lookupErr := o.messages.GetByIdempotencyKey(ctx, cmd.IdempotencyKey); lookupErr == nil {
				return &AcceptResult{Message: existing, Duplicate: true}, nil
			}
			return nil, core_domain.ErrAlreadyProcessing
		}
		return nil, fmt.Errorf("persist message: %w", err)
	}

	o.appendEvent(ctx, msg, core_domain.EventRequested, nil)

	payload, err := core_domain.Encode(core_domain.NewMessageRequestedEvent(msg))
	if err != nil {
		return nil, fmt.Errorf("encode requested event: %w", err)
	}
	if err := o.bus.Publish(ctx, messagebroker.SubjectMessageRequested, msg.RequestID, payload); err != nil {
		// Admission is all-or-nothing: a message no consumer will ever see
		// must not stay behind blocking its idempotency key, so the row and
		// its audit trail are unwound before the error is surfaced.
		o.logger.ErrorContext(ctx, "Failed to publish requested event; unwinding admission",
			"request_id", msg.RequestID, "error", err)
		if delErr := o.events.DeleteByRequestID(ctx, msg.RequestID); delErr != nil {
			o.logger.ErrorContext(ctx, "Failed to unwind message events",
				"request_id", msg.RequestID, "error", delErr)
		}
		if delErr := o.messages.Delete(ctx, msg.ID); delErr != nil {
			o.logger.ErrorContext(ctx, "Failed to unwind message row; TTL sweep is the backstop",
				"request_id", msg.RequestID, "error", delErr)
		}
		return nil, fmt.Errorf("publish requested event: %w", err)
	}

	o.policy.RecordMessageSent(ctx, tenant.ID, recipientKey)

	o.logger.InfoContext(ctx, "Message admitted",
		"request_id", msg.RequestID, "tenant_id", tenant.ID, "channel", msg.Channel)
	return &AcceptResult{Message: msg}, nil
}

func (o *Orchestrator) buildMessage(tenant *core_domain.Tenant, cmd *AcceptMessageCommand, tmpl *core_domain.Template, title, body string, priority core_domain.Priority) *core_domain.Message {
	now := time.Now().UTC()

	msg := &core_domain.Message{
		ID:           uuid.NewString(),
		RequestID:    NewRequestID(),
		TenantID:     tenant.ID,
		TemplateID:   &tmpl.ID,
		TemplateCode: cmd.TemplateCode,
		Channel:      cmd.Channel,
		Locale:       tmpl.Locale,
		Recipient:    cmd.To,
		RenderedBody: body,
		Routing: core_domain.Routing{
			Priority:   priority,
			Fallback:   cmd.Routing.Fallback,
			TTLSeconds: cmd.Routing.TTLSeconds,
		},
		Attachments: cmd.Attachments,
		Meta:        cmd.Meta,
		Status:      core_domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if title != "" {
		msg.RenderedTitle = &title
	}
	if cmd.IdempotencyKey != "" {
		key := cmd.IdempotencyKey
		msg.IdempotencyKey = &key
	}
	if cmd.Routing.TTLSeconds > 0 {
		expiresAt := now.Add(time.Duration(cmd.Routing.TTLSeconds) * time.Second)
		msg.TTLExpiresAt = &expiresAt
	}
	return msg
}

// GetMessageStatus returns the tenant's message and its audit trail. A
// message whose TTL lapsed while still queued is expired lazily here, so
// reads never show a stale PENDING past its deadline.
func (o *Orchestrator) GetMessageStatus(ctx context.Context, tenantID, requestID string) (*core_domain.Message, []*core_domain.MessageEvent, error) {
	msg, err := o.messages.GetByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, core_domain.ErrMessageNotFound
		}
		return nil, nil, fmt.Errorf("load message: %w", err)
	}
	if msg.TenantID != tenantID {
		return nil, nil, core_domain.ErrMessageNotFound
	}

	if msg.IsExpired() && (msg.Status == core_domain.StatusPending || msg.Status == core_domain.StatusProcessing) {
		expired, err := o.messages.MarkExpiredIfUndelivered(ctx, msg.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("expire message: %w", err)
		}
		if expired {
			msg.MarkExpired()
			o.appendEvent(ctx, msg, core_domain.EventExpired, map[string]any{"reason": "TTL_ELAPSED"})
		}
	}

	events, err := o.events.ListByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load message events: %w", err)
	}
	return msg, events, nil
}

// ListMessages pages through the tenant's messages, optionally filtered by
// status. Page numbering is 1-based.
func (o *Orchestrator) ListMessages(ctx context.Context, tenantID string, status *core_domain.MessageStatus, page, size int) ([]*core_domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return o.messages.ListByTenant(ctx, tenantID, status, page, size)
}

// OptOutRecipient records an explicit opt-out for the tenant's recipient.
func (o *Orchestrator) OptOutRecipient(ctx context.Context, tenantID, recipientKey, reason string) error {
	if recipientKey == "" {
		return core_domain.NewValidationError(map[string]string{"recipient": "is required"})
	}
	if reason == "" {
		reason = "USER_REQUEST"
	}
	return o.policy.OptOut(ctx, tenantID, recipientKey, reason)
}

// OptInRecipient clears a previous opt-out.
func (o *Orchestrator) OptInRecipient(ctx context.Context, tenantID, recipientKey string) error {
	if recipientKey == "" {
		return core_domain.NewValidationError(map[string]string{"recipient": "is required"})
	}
	return o.policy.OptIn(ctx, tenantID, recipientKey)
}

func (o *Orchestrator) appendEvent(ctx context.Context, msg *core_domain.Message, eventType core_domain.EventType, payload map[string]any) {
	if err := o.events.Append(ctx, core_domain.NewMessageEvent(msg, eventType, payload)); err != nil {
		o.logger.ErrorContext(ctx, "Failed to append message event",
			"request_id", msg.RequestID, "event_type", eventType, "error", err)
	}
}

// NewRequestID returns the client-facing request identifier, req_ followed by
// sixteen hex characters.
func NewRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		u := uuid.New()
		copy(buf, u[:8])
	}
	return "req_" + hex.EncodeToString(buf)
}
