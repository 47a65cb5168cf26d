package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

// DailyCounterStore tracks per-recipient daily send counts. Implemented on
// Redis in production; the interface keeps the checker testable.
type DailyCounterStore interface {
	// Get returns the recipient's send count for the current day.
	Get(ctx context.Context, tenantID, recipientKey string) (int, error)
	// Increment bumps today's count and arms its midnight expiry.
	Increment(ctx context.Context, tenantID, recipientKey string) error
}

// RedisDailyCounterStore keeps daily counters in Redis keyed by
// policy_daily:<tenant>:<recipient>:<yyyy-mm-dd>, expiring shortly after
// midnight UTC.
type RedisDailyCounterStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisDailyCounterStore(client *redis.Client) *RedisDailyCounterStore {
	return &RedisDailyCounterStore{client: client, now: time.Now}
}

func (s *RedisDailyCounterStore) key(tenantID, recipientKey string) string {
	return fmt.Sprintf("policy_daily:%s:%s:%s", tenantID, recipientKey, s.now().UTC().Format("2006-01-02"))
}

func (s *RedisDailyCounterStore) Get(ctx context.Context, tenantID, recipientKey string) (int, error) {
	count, err := s.client.Get(ctx, s.key(tenantID, recipientKey)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get daily counter: %w", err)
	}
	return count, nil
}

func (s *RedisDailyCounterStore) Increment(ctx context.Context, tenantID, recipientKey string) error {
	key := s.key(tenantID, recipientKey)
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 26*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment daily counter: %w", err)
	}
	return nil
}

// Checker enforces recipient-level delivery policy: opt-out, per-channel
// blocks, quiet hours and the daily cap. Preference rows are optional; a
// recipient with no row passes every check. Counter-store failures fail OPEN
// so a degraded Redis never blocks delivery.
type Checker struct {
	prefs    repository.RecipientPrefRepository
	counters DailyCounterStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewChecker(prefs repository.RecipientPrefRepository, counters DailyCounterStore, logger *slog.Logger) *Checker {
	return &Checker{
		prefs:    prefs,
		counters: counters,
		logger:   logger.With("component", "policy_checker"),
		now:      time.Now,
	}
}

// Check runs all recipient policy gates for one outgoing message. HIGH
// priority messages skip quiet hours but never the opt-out or cap gates.
func (c *Checker) Check(ctx context.Context, tenantID, recipientKey string, channel core_domain.ChannelType, priority core_domain.Priority) error {
	pref, err := c.prefs.Get(ctx, tenantID, recipientKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		// The policy layer fails open on its own infrastructure errors;
		// a degraded preference store never blocks delivery.
		c.logger.WarnContext(ctx, "Recipient preferences unavailable; failing open",
			"tenant_id", tenantID, "error", err)
		return nil
	}

	if pref.OptedOut {
		return core_domain.ErrRecipientOptedOut
	}
	if !pref.ChannelAllowed(channel) {
		return core_domain.ErrChannelNotAllowed.WithMessage(
			fmt.Sprintf("recipient has disabled channel %s", channel))
	}
	if priority != core_domain.PriorityHigh && c.inQuietHours(pref) {
		return core_domain.ErrQuietHours
	}
	if pref.MaxDailyMsgs != nil {
		count, err := c.counters.Get(ctx, tenantID, recipientKey)
		if err != nil {
			c.logger.WarnContext(ctx, "Daily counter unavailable; failing open",
				"tenant_id", tenantID, "error", err)
			return nil
		}
		if count >= *pref.MaxDailyMsgs {
			return core_domain.ErrDailyCapExceeded.WithDetails(map[string]any{
				"maxDailyMessages": *pref.MaxDailyMsgs,
			})
		}
	}
	return nil
}

// RecordMessageSent updates the bookkeeping after an accepted message: the
// daily counter and the preference row's last-message stamp. Failures are
// logged, never propagated; the message is already committed.
func (c *Checker) RecordMessageSent(ctx context.Context, tenantID, recipientKey string) {
	if err := c.counters.Increment(ctx, tenantID, recipientKey); err != nil {
		c.logger.WarnContext(ctx, "Failed to increment daily counter",
			"tenant_id", tenantID, "error", err)
	}
	if err := c.prefs.TouchLastMessage(ctx, tenantID, recipientKey); err != nil {
		c.logger.WarnContext(ctx, "Failed to stamp last message time",
			"tenant_id", tenantID, "error", err)
	}
}

// OptOut records an explicit opt-out for the recipient.
func (c *Checker) OptOut(ctx context.Context, tenantID, recipientKey, reason string) error {
	if err := c.prefs.SetOptOut(ctx, tenantID, recipientKey, reason); err != nil {
		return fmt.Errorf("record opt-out: %w", err)
	}
	c.logger.InfoContext(ctx, "Recipient opted out", "tenant_id", tenantID, "reason", reason)
	return nil
}

// OptIn clears a previous opt-out.
func (c *Checker) OptIn(ctx context.Context, tenantID, recipientKey string) error {
	if err := c.prefs.SetOptIn(ctx, tenantID, recipientKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return core_domain.ErrRecipientNotFound
		}
		return fmt.Errorf("record opt-in: %w", err)
	}
	c.logger.InfoContext(ctx, "Recipient opted back in", "tenant_id", tenantID)
	return nil
}

// inQuietHours reports whether the current wall-clock time falls inside the
// recipient's quiet window. Windows may span midnight (22:00 to 08:00).
func (c *Checker) inQuietHours(pref *core_domain.RecipientPref) bool {
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false
	}
	start, okStart := parseClock(*pref.QuietHoursStart)
	end, okEnd := parseClock(*pref.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return false
	}

	now := c.now()
	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Window spans midnight.
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
