package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

var (
	messagesRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ums_recovery",
		Name:      "messages_retried_total",
		Help:      "Failed messages re-queued for another delivery attempt.",
	})
	messagesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ums_recovery",
		Name:      "messages_expired_total",
		Help:      "Undelivered messages expired past their TTL.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ums_recovery",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one recovery sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)

// EventPublisher is the bus hand-off, satisfied by messagebroker.Client.
type EventPublisher interface {
	Publish(ctx context.Context, subject, key string, payload []byte) error
}

// Recoverer periodically sweeps the message store for work the happy path
// dropped: FAILED messages below the retry ceiling are re-queued, and
// PENDING/PROCESSING messages past their TTL are expired. Claims are
// conditional single-row updates, so concurrent recoverer instances never
// double-drive a message.
type Recoverer struct {
	messages  repository.MessageRepository
	events    repository.MessageEventRepository
	bus       EventPublisher
	logger    *slog.Logger
	batchSize int
}

func NewRecoverer(
	messages repository.MessageRepository,
	events repository.MessageEventRepository,
	bus EventPublisher,
	batchSize int,
	logger *slog.Logger,
) *Recoverer {
	return &Recoverer{
		messages:  messages,
		events:    events,
		bus:       bus,
		batchSize: batchSize,
		logger:    logger.With("component", "recoverer"),
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Recovery sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep and reports how many messages were re-queued
// and expired.
func (r *Recoverer) RunOnce(ctx context.Context) (retried, expired int, err error) {
	start := time.Now()
	defer func() { cycleDuration.Observe(time.Since(start).Seconds()) }()

	retried, err = r.retryFailed(ctx)
	if err != nil {
		return retried, 0, err
	}
	expired, err = r.expireOverdue(ctx)
	if err != nil {
		return retried, expired, err
	}

	if retried > 0 || expired > 0 {
		r.logger.InfoContext(ctx, "Recovery sweep finished", "retried", retried, "expired", expired)
	}
	return retried, expired, nil
}

func (r *Recoverer) retryFailed(ctx context.Context) (int, error) {
	candidates, err := r.messages.FindRetryCandidates(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find retry candidates: %w", err)
	}

	retried := 0
	for _, msg := range candidates {
		claimed, err := r.messages.ClaimForRetry(ctx, msg.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to claim message for retry",
				"request_id", msg.RequestID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		msg.Status = core_domain.StatusPending
		msg.IncrementRetries()

		r.appendEvent(ctx, msg, core_domain.EventRetried, map[string]any{"retries": msg.Retries})

		payload, err := core_domain.Encode(core_domain.NewMessageRequestedEvent(msg))
		if err != nil {
			return retried, fmt.Errorf("encode retry event: %w", err)
		}
		if err := r.bus.Publish(ctx, messagebroker.SubjectMessageRequested, msg.RequestID, payload); err != nil {
			// The row is PENDING again; the next sweep will not see it, but
			// the delivery consumer never will either. Loud log, keep going.
			r.logger.ErrorContext(ctx, "Failed to re-publish retried message",
				"request_id", msg.RequestID, "error", err)
			continue
		}
		retried++
		messagesRetriedTotal.Inc()
		r.logger.InfoContext(ctx, "Re-queued failed message",
			"request_id", msg.RequestID, "retries", msg.Retries)
	}
	return retried, nil
}

func (r *Recoverer) expireOverdue(ctx context.Context) (int, error) {
	candidates, err := r.messages.FindExpiredCandidates(ctx, time.Now().UTC(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired candidates: %w", err)
	}

	expired := 0
	for _, msg := range candidates {
		won, err := r.messages.MarkExpiredIfUndelivered(ctx, msg.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to expire message",
				"request_id", msg.RequestID, "error", err)
			continue
		}
		if !won {
			continue
		}
		oldStatus := msg.Status
		msg.MarkExpired()
		r.appendEvent(ctx, msg, core_domain.EventExpired, map[string]any{"reason": "TTL_ELAPSED"})
		r.publishStatusChange(ctx, msg, oldStatus)
		expired++
		messagesExpiredTotal.Inc()
	}
	return expired, nil
}

func (r *Recoverer) publishStatusChange(ctx context.Context, msg *core_domain.Message, oldStatus core_domain.MessageStatus) {
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
	if err := r.bus.Publish(ctx, messagebroker.SubjectMessageStatus, msg.RequestID, payload); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish status change",
			"request_id", msg.RequestID, "error", err)
	}
}

func (r *Recoverer) appendEvent(ctx context.Context, msg *core_domain.Message, eventType core_domain.EventType, payload map[string]any) {
	if err := r.events.Append(ctx, core_domain.NewMessageEvent(msg, eventType, payload)); err != nil {
		r.logger.ErrorContext(ctx, "Failed to append message event",
			"request_id", msg.RequestID, "event_type", eventType, "error", err)
	}
}
