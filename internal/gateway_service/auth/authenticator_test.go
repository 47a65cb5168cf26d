package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

type mockTenantRepo struct {
	mock.Mock
}

func (m *mockTenantRepo) GetByAPIKeyDigest(ctx context.Context, digest string) (*core_domain.Tenant, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Tenant), args.Error(1)
}

func (m *mockTenantRepo) ConsumeCredit(ctx context.Context, tenantID string) (bool, error) {
	args := m.Called(ctx, tenantID)
	return args.Bool(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	apiKey := "ums_live_abc123"
	digest := KeyDigest(apiKey)

	t.Run("resolves active tenant", func(t *testing.T) {
		repo := new(mockTenantRepo)
		repo.On("GetByAPIKeyDigest", mock.Anything, digest).
			Return(&core_domain.Tenant{ID: "tn_1", Status: core_domain.TenantActive}, nil)

		a := NewAuthenticator(repo, time.Minute, testLogger())
		tenant, err := a.Authenticate(ctx, "Bearer "+apiKey)

		require.NoError(t, err)
		assert.Equal(t, "tn_1", tenant.ID)
		repo.AssertExpectations(t)
	})

	t.Run("missing header", func(t *testing.T) {
		a := NewAuthenticator(new(mockTenantRepo), time.Minute, testLogger())
		_, err := a.Authenticate(ctx, "")
		assert.ErrorIs(t, err, core_domain.ErrAuthentication)
	})

	t.Run("unknown key", func(t *testing.T) {
		repo := new(mockTenantRepo)
		repo.On("GetByAPIKeyDigest", mock.Anything, mock.Anything).
			Return(nil, repository.ErrNotFound)

		a := NewAuthenticator(repo, time.Minute, testLogger())
		_, err := a.Authenticate(ctx, "Bearer nope")
		assert.ErrorIs(t, err, core_domain.ErrTenantNotFound)
	})

	t.Run("suspended tenant is rejected", func(t *testing.T) {
		repo := new(mockTenantRepo)
		repo.On("GetByAPIKeyDigest", mock.Anything, digest).
			Return(&core_domain.Tenant{ID: "tn_1", Status: core_domain.TenantSuspended}, nil)

		a := NewAuthenticator(repo, time.Minute, testLogger())
		_, err := a.Authenticate(ctx, "Bearer "+apiKey)
		assert.ErrorIs(t, err, core_domain.ErrTenantSuspended)
	})

	t.Run("second lookup is served from cache", func(t *testing.T) {
		repo := new(mockTenantRepo)
		repo.On("GetByAPIKeyDigest", mock.Anything, digest).
			Return(&core_domain.Tenant{ID: "tn_1", Status: core_domain.TenantActive}, nil).
			Once()

		a := NewAuthenticator(repo, time.Minute, testLogger())
		_, err := a.Authenticate(ctx, "Bearer "+apiKey)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, "Bearer "+apiKey)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestVerifyRequestSignature(t *testing.T) {
	a := NewAuthenticator(new(mockTenantRepo), time.Minute, testLogger())
	tenant := &core_domain.Tenant{ID: "tn_1", APISecret: "secret"}
	ts := time.Now().Unix()
	sig := Signature("POST", "/v1/messages", "body", ts, "secret")

	assert.True(t, a.VerifyRequestSignature(tenant, "POST", "/v1/messages", "body", ts, sig))
	assert.False(t, a.VerifyRequestSignature(tenant, "POST", "/v1/messages", "other", ts, sig))

	noSecret := &core_domain.Tenant{ID: "tn_2"}
	assert.False(t, a.VerifyRequestSignature(noSecret, "POST", "/v1/messages", "body", ts, sig))
}
