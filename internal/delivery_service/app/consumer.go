package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

// EventPublisher is the bus fan-out, satisfied by messagebroker.Client.
type EventPublisher interface {
	Publish(ctx context.Context, subject, key string, payload []byte) error
}

// Processor consumes admitted messages from the bus and drives one delivery
// attempt each. Claiming a message is the PENDING -> PROCESSING transition;
// a redelivered bus message that finds the row already claimed is a no-op,
// which makes processing idempotent under at-least-once delivery.
type Processor struct {
	messages        repository.MessageRepository
	events          repository.MessageEventRepository
	router          *Router
	bus             EventPublisher
	logger          *slog.Logger
	providerTimeout time.Duration
}

func NewProcessor(
	messages repository.MessageRepository,
	events repository.MessageEventRepository,
	router *Router,
	bus EventPublisher,
	providerTimeout time.Duration,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		messages:        messages,
		events:          events,
		router:          router,
		bus:             bus,
		providerTimeout: providerTimeout,
		logger:          logger.With("component", "delivery_processor"),
	}
}

// HandleRequested processes one MESSAGE_REQUESTED bus event.
func (p *Processor) HandleRequested(ctx context.Context, data []byte) error {
	var event core_domain.MessageRequestedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		p.logger.ErrorContext(ctx, "Undecodable requested event; dropping", "error", err)
		return nil
	}
	logger := p.logger.With("request_id", event.RequestID)

	msg, err := p.messages.GetByRequestID(ctx, event.RequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.WarnContext(ctx, "Requested event references unknown message; dropping")
			return nil
		}
		return fmt.Errorf("load message %s: %w", event.RequestID, err)
	}

	if msg.IsTerminal() {
		logger.InfoContext(ctx, "Message already terminal; skipping", "status", msg.Status)
		return nil
	}
	if msg.IsExpired() {
		return p.expire(ctx, msg)
	}

	claimed, err := p.messages.TransitionStatus(ctx, msg.ID, core_domain.StatusPending, core_domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("claim message %s: %w", event.RequestID, err)
	}
	if !claimed {
		logger.InfoContext(ctx, "Message already claimed; skipping", "status", msg.Status)
		return nil
	}
	oldStatus := msg.Status
	msg.Status = core_domain.StatusProcessing

	start := time.Now()
	outcome, err := p.deliver(ctx, msg)
	deliveryDuration.WithLabelValues(string(msg.Channel)).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	deliveriesTotal.WithLabelValues(string(msg.Channel), outcome).Inc()
	if outcome == outcomeDiscarded {
		// The TTL sweep moved the row past PROCESSING while the provider
		// call was in flight; its verdict no longer applies.
		return nil
	}
	p.publishStatusChange(ctx, msg, oldStatus)
	return nil
}

// Delivery outcomes, also used as metric labels.
const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
)

// deliver routes the claimed message to its channel adapter and records the
// verdict on the aggregate.
func (p *Processor) deliver(ctx context.Context, msg *core_domain.Message) (string, error) {
	logger := p.logger.With("request_id", msg.RequestID, "channel", msg.Channel)

	adapter, ok := p.router.Route(msg.Channel)
	if !ok {
		// No adapter can ever serve this channel here, so retrying is
		// pointless: fail terminally.
		msg.MarkFailed(core_domain.ErrCodeNoAdapter,
			fmt.Sprintf("no adapter configured for channel %s", msg.Channel), nil)
		msg.Retries = core_domain.MaxRetries
		persisted, err := p.persistVerdict(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("persist NO_ADAPTER failure: %w", err)
		}
		if !persisted {
			return outcomeDiscarded, nil
		}
		p.appendEvent(ctx, msg, core_domain.EventFailed, nil)
		logger.ErrorContext(ctx, "No adapter for channel; failed terminally")
		return outcomeFailed, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.providerTimeout)
	defer cancel()

	result, providerName, err := adapter.Send(sendCtx, msg)
	if err != nil {
		code := core_domain.ErrCodeProcessingError
		var details map[string]any
		var de *core_domain.DomainError
		if errors.As(err, &de) {
			code = de.Code
			details = de.Details
		}
		msg.MarkFailed(code, err.Error(), details)
		persisted, updateErr := p.persistVerdict(ctx, msg)
		if updateErr != nil {
			return "", fmt.Errorf("persist delivery failure: %w", updateErr)
		}
		if !persisted {
			return outcomeDiscarded, nil
		}
		p.appendEvent(ctx, msg, core_domain.EventFailed, nil)
		logger.WarnContext(ctx, "Delivery attempt failed",
			"error_code", code, "retries", msg.Retries, "error", err)
		return outcomeFailed, nil
	}

	meta := result.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	meta["deliveredVia"] = providerName
	msg.MarkSent(result.ProviderMessageID, meta)
	persisted, err := p.persistVerdict(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("persist sent state: %w", err)
	}
	if !persisted {
		return outcomeDiscarded, nil
	}
	p.appendEvent(ctx, msg, core_domain.EventSent, map[string]any{"provider": providerName})
	logger.InfoContext(ctx, "Message sent",
		"provider", providerName, "provider_message_id", result.ProviderMessageID)
	return outcomeSent, nil
}

// persistVerdict writes the delivery verdict, guarded on the PROCESSING
// claim. Reports false when the row has already moved on (the TTL sweep won)
// and the verdict must be discarded.
func (p *Processor) persistVerdict(ctx context.Context, msg *core_domain.Message) (bool, error) {
	err := p.messages.Update(ctx, msg, core_domain.StatusProcessing)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrStaleStatus) {
		p.logger.WarnContext(ctx, "Message moved past PROCESSING during delivery; discarding verdict",
			"request_id", msg.RequestID, "verdict", msg.Status)
		return false, nil
	}
	return false, err
}

func (p *Processor) expire(ctx context.Context, msg *core_domain.Message) error {
	expired, err := p.messages.MarkExpiredIfUndelivered(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("expire message %s: %w", msg.RequestID, err)
	}
	if expired {
		oldStatus := msg.Status
		msg.MarkExpired()
		p.appendEvent(ctx, msg, core_domain.EventExpired, map[string]any{"reason": "TTL_ELAPSED"})
		p.publishStatusChange(ctx, msg, oldStatus)
		deliveriesTotal.WithLabelValues(string(msg.Channel), "expired").Inc()
		p.logger.InfoContext(ctx, "Message expired before delivery", "request_id", msg.RequestID)
	}
	return nil
}

func (p *Processor) publishStatusChange(ctx context.Context, msg *core_domain.Message, oldStatus core_domain.MessageStatus) {
	publishStatusChange(ctx, p.bus, p.logger, msg, oldStatus)
}

// publishStatusChange fans a status transition out on the bus. Best effort:
// the aggregate is already persisted, a lost fan-out only affects listeners.
func publishStatusChange(ctx context.Context, bus EventPublisher, logger *slog.Logger, msg *core_domain.Message, oldStatus core_domain.MessageStatus) {
	if msg.Status == oldStatus {
		return
	}
	payload, err := core_domain.Encode(core_domain.StatusChangedEvent{
		Type:      "MESSAGE_STATUS_CHANGED",
		RequestID: msg.RequestID,
		TenantID:  msg.TenantID,
		OldStatus: string(oldStatus),
		NewStatus: string(msg.Status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, messagebroker.SubjectMessageStatus, msg.RequestID, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish status change",
			"request_id", msg.RequestID, "error", err)
	}
}

func (p *Processor) appendEvent(ctx context.Context, msg *core_domain.Message, eventType core_domain.EventType, payload map[string]any) {
	if err := p.events.Append(ctx, core_domain.NewMessageEvent(msg, eventType, payload)); err != nil {
		p.logger.ErrorContext(ctx, "Failed to append message event",
			"request_id", msg.RequestID, "event_type", eventType, "error", err)
	}
}
