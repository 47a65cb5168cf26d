package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/auth"
)

type contextKey string

const tenantContextKey = contextKey("authenticatedTenant")

const maxBodyBytes = 1 << 20 // 1 MiB request body cap

// TenantFromContext returns the tenant resolved by the auth middleware.
func TenantFromContext(ctx context.Context) (*core_domain.Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(*core_domain.Tenant)
	return tenant, ok
}

// AuthMiddleware resolves the API key to a tenant and, when the tenant has a
// signing secret, verifies the request's HMAC signature over
// METHOD|PATH|BODY|TIMESTAMP carried in X-Timestamp and X-Signature.
func AuthMiddleware(authenticator *auth.Authenticator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			tenant, err := authenticator.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}

			if tenant.APISecret != "" {
				body, err := readBody(r)
				if err != nil {
					writeDomainError(w, logger, core_domain.NewValidationError(
						map[string]string{"body": "unreadable or too large"}))
					return
				}

				timestamp, err := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
				if err != nil {
					logger.WarnContext(ctx, "Missing or malformed X-Timestamp", "tenant_id", tenant.ID)
					writeDomainError(w, logger, core_domain.ErrAuthentication)
					return
				}
				if !authenticator.VerifyRequestSignature(tenant, r.Method, r.URL.Path, string(body), timestamp, r.Header.Get("X-Signature")) {
					logger.WarnContext(ctx, "Request signature verification failed", "tenant_id", tenant.ID)
					writeDomainError(w, logger, core_domain.ErrAuthentication)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, tenantContextKey, tenant)))
		})
	}
}

// readBody consumes and restores the request body so handlers can decode it
// after signature verification.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, io.ErrShortBuffer
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
