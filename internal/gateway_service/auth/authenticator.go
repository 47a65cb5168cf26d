package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/cache"
)

// Authenticator resolves opaque API credentials to tenants. Lookups go
// through a short-lived cache so hot tenants do not hit the database on
// every admission.
type Authenticator struct {
	tenantRepo repository.TenantRepository
	tenants    *cache.TTLCache[*core_domain.Tenant]
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator with the given tenant cache TTL.
func NewAuthenticator(tenantRepo repository.TenantRepository, cacheTTL time.Duration, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		tenantRepo: tenantRepo,
		tenants:    cache.NewTTLCache[*core_domain.Tenant](cacheTTL),
		logger:     logger.With("component", "authenticator"),
	}
}

// Authenticate resolves the Authorization header to an active tenant.
// No side effects: suspended tenants are rejected, nothing is written.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (*core_domain.Tenant, error) {
	apiKey := ExtractAPIKey(authorization)
	if apiKey == "" {
		return nil, core_domain.ErrAuthentication.WithMessage("authorization header is required")
	}

	digest := KeyDigest(apiKey)
	tenant, err := a.tenants.GetOrLoad(ctx, digest, func(ctx context.Context) (*core_domain.Tenant, error) {
		return a.tenantRepo.GetByAPIKeyDigest(ctx, digest)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, core_domain.ErrTenantNotFound
		}
		a.logger.ErrorContext(ctx, "Tenant lookup failed", "error", err)
		return nil, core_domain.ErrInternal
	}

	if tenant.Status != core_domain.TenantActive {
		return nil, core_domain.ErrTenantSuspended
	}
	return tenant, nil
}

// VerifyRequestSignature checks the optional strong-auth HMAC signature for
// an already-authenticated tenant.
func (a *Authenticator) VerifyRequestSignature(tenant *core_domain.Tenant, method, path, body string, timestamp int64, signature string) bool {
	if tenant.APISecret == "" {
		a.logger.Warn("No API secret configured for tenant", "tenant_id", tenant.ID)
		return false
	}
	return VerifySignature(method, path, body, timestamp, signature, tenant.APISecret)
}

// KeyDigest returns the stored fingerprint of an API key: SHA3-256, hex.
// Only digests live in the database, never the raw key.
func KeyDigest(apiKey string) string {
	sum := sha3.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
