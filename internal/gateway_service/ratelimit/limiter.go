package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitTypeTenant and LimitTypeRecipient name the two admission buckets.
const (
	LimitTypeTenant    = "messages"
	LimitTypeRecipient = "recipient_messages"
)

const intervalSeconds = 3600 // one refill interval per hour

// tokenBucketScript implements the atomic check-and-decrement. The bucket is
// a Redis hash of (tokens, last_refill); refill is computed from elapsed
// server time so no client clock is trusted. Returns {allowed, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

local now = tonumber(redis.call('TIME')[1])

if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = now - last_refill
local refill = math.floor(elapsed * capacity / interval)
tokens = math.min(capacity, tokens + refill)

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, interval * 2)

return {allowed, tokens}
`)

// Result is the outcome of one admission check, with the metadata surfaced
// in client-visible rate-limit headers.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Limiter is a token-bucket rate limiter over a shared Redis store. Buckets
// are keyed (subject, limitType); capacity and refill rate are both the
// configured requests-per-hour. On Redis failure the limiter fails OPEN:
// availability is preferred over strict enforcement, and every such pass is
// logged.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
}

func NewLimiter(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, logger: logger.With("component", "rate_limiter")}
}

// Check consumes one token from the (subject, limitType) bucket.
func (l *Limiter) Check(ctx context.Context, subject, limitType string, requestsPerHour int) Result {
	key := bucketKey(subject, limitType)
	resetAt := time.Now().Add(intervalSeconds * time.Second)

	raw, err := tokenBucketScript.Run(ctx, l.client, []string{key}, requestsPerHour, intervalSeconds, 1).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "Rate limit check failed; failing open", "key", key, "error", err)
		return Result{Allowed: true, Remaining: requestsPerHour, Limit: requestsPerHour, ResetAt: resetAt}
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		l.logger.WarnContext(ctx, "Unexpected rate limit script reply; failing open", "key", key, "reply", raw)
		return Result{Allowed: true, Remaining: requestsPerHour, Limit: requestsPerHour, ResetAt: resetAt}
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	return Result{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		Limit:     requestsPerHour,
		ResetAt:   resetAt,
	}
}

// Reset drops the bucket so the next check starts from full capacity.
func (l *Limiter) Reset(ctx context.Context, subject, limitType string) error {
	if err := l.client.Del(ctx, bucketKey(subject, limitType)).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

func bucketKey(subject, limitType string) string {
	return fmt.Sprintf("rate_limit:%s:%s", subject, limitType)
}

// refillTokens mirrors the script's refill arithmetic; kept in Go so the
// token-bucket math is unit-testable without Redis.
func refillTokens(tokens, lastRefill, now, capacity int64) int64 {
	elapsed := now - lastRefill
	if elapsed < 0 {
		elapsed = 0
	}
	refilled := tokens + elapsed*capacity/intervalSeconds
	if refilled > capacity {
		return capacity
	}
	return refilled
}
