package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

type PgTenantRepository struct {
	db     repository.DB
	logger *slog.Logger
}

func NewPgTenantRepository(db repository.DB, logger *slog.Logger) repository.TenantRepository {
	return &PgTenantRepository{db: db, logger: logger.With("component", "tenant_repository_pg")}
}

func (r *PgTenantRepository) GetByAPIKeyDigest(ctx context.Context, digest string) (*core_domain.Tenant, error) {
	query := `
		SELECT id, name, api_key_digest, api_secret, rate_limits_json, allowed_channels_json,
		       credits_remaining, status, created_at, updated_at
		FROM tenants WHERE api_key_digest = $1
	`
	tenant := &core_domain.Tenant{}
	var (
		status              string
		rateLimitsJSON      []byte
		allowedChannelsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, digest).Scan(
		&tenant.ID, &tenant.Name, &tenant.APIKeyDigest, &tenant.APISecret,
		&rateLimitsJSON, &allowedChannelsJSON, &tenant.CreditsRemaining,
		&status, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant by key digest: %w", err)
	}
	tenant.Status = core_domain.TenantStatus(status)

	if len(rateLimitsJSON) > 0 {
		if err := json.Unmarshal(rateLimitsJSON, &tenant.RateLimits); err != nil {
			return nil, fmt.Errorf("unmarshal rate limits: %w", err)
		}
	}
	if len(allowedChannelsJSON) > 0 {
		if err := json.Unmarshal(allowedChannelsJSON, &tenant.AllowedChannels); err != nil {
			return nil, fmt.Errorf("unmarshal allowed channels: %w", err)
		}
	}
	return tenant, nil
}

func (r *PgTenantRepository) ConsumeCredit(ctx context.Context, tenantID string) (bool, error) {
	// NULL balance means unlimited; the guarded decrement only touches finite,
	// positive balances so it can never go negative.
	query := `
		UPDATE tenants
		SET credits_remaining = credits_remaining - 1, updated_at = NOW()
		WHERE id = $1 AND credits_remaining IS NOT NULL AND credits_remaining > 0
	`
	tag, err := r.db.Exec(ctx, query, tenantID)
	if err != nil {
		return false, fmt.Errorf("consume credit: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var unlimited bool
	checkQuery := `SELECT credits_remaining IS NULL FROM tenants WHERE id = $1`
	if err := r.db.QueryRow(ctx, checkQuery, tenantID).Scan(&unlimited); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("check tenant credits: %w", err)
	}
	return unlimited, nil
}
