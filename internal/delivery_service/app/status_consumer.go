package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

// StatusConsumer applies asynchronous provider callbacks (delivery receipts,
// failures, read receipts) to the message aggregate. Callbacks are keyed by
// the provider's own message id.
type StatusConsumer struct {
	messages repository.MessageRepository
	events   repository.MessageEventRepository
	bus      EventPublisher
	logger   *slog.Logger
}

func NewStatusConsumer(
	messages repository.MessageRepository,
	events repository.MessageEventRepository,
	bus EventPublisher,
	logger *slog.Logger,
) *StatusConsumer {
	return &StatusConsumer{
		messages: messages,
		events:   events,
		bus:      bus,
		logger:   logger.With("component", "status_consumer"),
	}
}

// HandleDeliveryStatus processes one provider callback from the bus.
func (c *StatusConsumer) HandleDeliveryStatus(ctx context.Context, data []byte) error {
	var event core_domain.DeliveryStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.ErrorContext(ctx, "Undecodable delivery status event; dropping", "error", err)
		return nil
	}
	if event.ProviderMessageID == "" {
		c.logger.WarnContext(ctx, "Delivery status without provider message id; dropping")
		return nil
	}
	statusCallbacksTotal.WithLabelValues(event.Status).Inc()

	msg, err := c.messages.GetByProviderMessageID(ctx, event.ProviderMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.logger.WarnContext(ctx, "Delivery status for unknown message; dropping",
				"provider_message_id", event.ProviderMessageID)
			return nil
		}
		return fmt.Errorf("load message by provider id: %w", err)
	}
	logger := c.logger.With("request_id", msg.RequestID, "provider_message_id", event.ProviderMessageID)
	oldStatus := msg.Status

	switch event.Status {
	case "DELIVERED":
		if msg.Status != core_domain.StatusSent {
			logger.InfoContext(ctx, "Delivery receipt for non-SENT message; dropping", "status", msg.Status)
			return nil
		}
		msg.MarkDelivered()
		if err := c.messages.Update(ctx, msg, core_domain.StatusSent); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				logger.InfoContext(ctx, "Message moved past SENT before receipt applied; dropping")
				return nil
			}
			return fmt.Errorf("persist delivered state: %w", err)
		}
		c.appendEvent(ctx, msg, core_domain.EventDelivered, nil)

	case "FAILED":
		if msg.IsTerminal() {
			logger.InfoContext(ctx, "Failure callback for terminal message; dropping", "status", msg.Status)
			return nil
		}
		msg.MarkFailed(callbackErrorCode(event), event.ErrorMessage, nil)
		if err := c.messages.Update(ctx, msg, oldStatus); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				logger.InfoContext(ctx, "Message changed before failure callback applied; dropping")
				return nil
			}
			return fmt.Errorf("persist callback failure: %w", err)
		}
		c.appendEvent(ctx, msg, core_domain.EventFailed, map[string]any{"source": "provider_callback"})

	case "READ":
		// Read receipts are audit-only; the status machine stops at DELIVERED.
		c.appendEvent(ctx, msg, core_domain.EventRead, nil)
		return nil

	default:
		logger.WarnContext(ctx, "Unknown delivery status; dropping", "status", event.Status)
		return nil
	}

	c.publishStatusChange(ctx, msg, oldStatus)
	logger.InfoContext(ctx, "Applied delivery status callback",
		"old_status", oldStatus, "new_status", msg.Status)
	return nil
}

func callbackErrorCode(event core_domain.DeliveryStatusEvent) string {
	if event.ErrorCode != "" {
		return event.ErrorCode
	}
	return core_domain.ErrCodeProcessingError
}

func (c *StatusConsumer) publishStatusChange(ctx context.Context, msg *core_domain.Message, oldStatus core_domain.MessageStatus) {
	publishStatusChange(ctx, c.bus, c.logger, msg, oldStatus)
}

func (c *StatusConsumer) appendEvent(ctx context.Context, msg *core_domain.Message, eventType core_domain.EventType, payload map[string]any) {
	if err := c.events.Append(ctx, core_domain.NewMessageEvent(msg, eventType, payload)); err != nil {
		c.logger.ErrorContext(ctx, "Failed to append message event",
			"request_id", msg.RequestID, "event_type", eventType, "error", err)
	}
}
