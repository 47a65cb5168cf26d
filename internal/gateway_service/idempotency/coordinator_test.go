package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

type fakeMessageRepo struct {
	repository.MessageRepository

	getByIdempotencyKey func(ctx context.Context, key string) (*core_domain.Message, error)
}

func (f *fakeMessageRepo) GetByIdempotencyKey(ctx context.Context, key string) (*core_domain.Message, error) {
	return f.getByIdempotencyKey(ctx, key)
}

type fakeLeaseStore struct {
	acquired  []string
	released  []string
	denyAll   bool
	acquireFn func(key, owner string) (bool, error)
}

func (f *fakeLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(key, owner)
	}
	if f.denyAll {
		return false, nil
	}
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLeaseStore) Release(ctx context.Context, key string) error {
	f.released = append(f.released, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notFoundRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		getByIdempotencyKey: func(ctx context.Context, key string) (*core_domain.Message, error) {
			return nil, repository.ErrNotFound
		},
	}
}

func TestCheckAndLock(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires lease for a fresh key", func(t *testing.T) {
		leases := &fakeLeaseStore{}
		c := NewCoordinator(notFoundRepo(), leases, time.Minute, testLogger())

		msg, err := c.CheckAndLock(ctx, "idem-1", "tn_1")

		require.NoError(t, err)
		assert.Nil(t, msg)
		assert.Equal(t, []string{"idem-1"}, leases.acquired)
	})

	t.Run("replays an already-admitted message", func(t *testing.T) {
		existing := &core_domain.Message{RequestID: "req_abc", TenantID: "tn_1"}
		repo := &fakeMessageRepo{
			getByIdempotencyKey: func(ctx context.Context, key string) (*core_domain.Message, error) {
				return existing, nil
			},
		}
		leases := &fakeLeaseStore{}
		c := NewCoordinator(repo, leases, time.Minute, testLogger())

		msg, err := c.CheckAndLock(ctx, "idem-1", "tn_1")

		require.NoError(t, err)
		assert.Same(t, existing, msg)
		assert.Empty(t, leases.acquired)
	})

	t.Run("same key under another tenant conflicts", func(t *testing.T) {
		repo := &fakeMessageRepo{
			getByIdempotencyKey: func(ctx context.Context, key string) (*core_domain.Message, error) {
				return &core_domain.Message{RequestID: "req_abc", TenantID: "tn_other"}, nil
			},
		}
		c := NewCoordinator(repo, &fakeLeaseStore{}, time.Minute, testLogger())

		_, err := c.CheckAndLock(ctx, "idem-1", "tn_1")
		assert.ErrorIs(t, err, core_domain.ErrIdempotencyConflict)
	})

	t.Run("contended lease fails fast", func(t *testing.T) {
		c := NewCoordinator(notFoundRepo(), &fakeLeaseStore{denyAll: true}, time.Minute, testLogger())

		_, err := c.CheckAndLock(ctx, "idem-1", "tn_1")
		assert.ErrorIs(t, err, core_domain.ErrAlreadyProcessing)
	})

	t.Run("lookup failure propagates", func(t *testing.T) {
		repo := &fakeMessageRepo{
			getByIdempotencyKey: func(ctx context.Context, key string) (*core_domain.Message, error) {
				return nil, errors.New("connection reset")
			},
		}
		c := NewCoordinator(repo, &fakeLeaseStore{}, time.Minute, testLogger())

		_, err := c.CheckAndLock(ctx, "idem-1", "tn_1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, core_domain.ErrAlreadyProcessing)
	})
}

func TestRelease(t *testing.T) {
	leases := &fakeLeaseStore{}
	c := NewCoordinator(notFoundRepo(), leases, time.Minute, testLogger())

	c.Release(context.Background(), "idem-1")
	assert.Equal(t, []string{"idem-1"}, leases.released)
}
