package idempotency

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

const leaseKeyPrefix = "idempotency_lock:"

// LeaseStore is the TTL'd exclusive-lease primitive behind the coordinator.
// Acquire must be a single atomic check-and-set round trip.
type LeaseStore interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLeaseStore implements LeaseStore with SET NX EX / DEL.
type RedisLeaseStore struct {
	client *redis.Client
}

func NewRedisLeaseStore(client *redis.Client) *RedisLeaseStore {
	return &RedisLeaseStore{client: client}
}

func (s *RedisLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKeyPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (s *RedisLeaseStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, leaseKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Coordinator deduplicates retried client submissions. A lease is acquired
// at admission entry and must be released on every exit path; a concurrent
// second attempt for the same key fails fast instead of blocking.
type Coordinator struct {
	messages repository.MessageRepository
	leases   LeaseStore
	leaseTTL time.Duration
	logger   *slog.Logger
}

func NewCoordinator(messages repository.MessageRepository, leases LeaseStore, leaseTTL time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		messages: messages,
		leases:   leases,
		leaseTTL: leaseTTL,
		logger:   logger.With("component", "idempotency_coordinator"),
	}
}

// CheckAndLock returns the already-admitted message for key, or acquires the
// processing lease and returns nil. A key admitted under a different tenant
// is a hard IDEMPOTENCY_CONFLICT; a concurrently held lease is
// ALREADY_PROCESSING.
func (c *Coordinator) CheckAndLock(ctx context.Context, key, tenantID string) (*core_domain.Message, error) {
	existing, err := c.messages.GetByIdempotencyKey(ctx, key)
	if err == nil {
		if existing.TenantID != tenantID {
			return nil, core_domain.ErrIdempotencyConflict
		}
		c.logger.InfoContext(ctx, "Found existing message for idempotency key", "idempotency_key", key, "request_id", existing.RequestID)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	acquired, err := c.leases.Acquire(ctx, key, tenantID, c.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency lease: %w", err)
	}
	if !acquired {
		c.logger.WarnContext(ctx, "Idempotency key is currently being processed", "idempotency_key", key)
		return nil, core_domain.ErrAlreadyProcessing
	}
	return nil, nil
}

// Release frees the processing lease. Safe to call on every exit path; a
// release failure is logged, never propagated — the lease TTL is the backstop.
func (c *Coordinator) Release(ctx context.Context, key string) {
	if err := c.leases.Release(ctx, key); err != nil {
		c.logger.ErrorContext(ctx, "Failed to release idempotency lease; TTL will reclaim it", "idempotency_key", key, "error", err)
	}
}
