package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

type PgRecipientPrefRepository struct {
	db     repository.DB
	logger *slog.Logger
}

func NewPgRecipientPrefRepository(db repository.DB, logger *slog.Logger) repository.RecipientPrefRepository {
	return &PgRecipientPrefRepository{db: db, logger: logger.With("component", "recipient_pref_repository_pg")}
}

func (r *PgRecipientPrefRepository) Get(ctx context.Context, tenantID, recipientKey string) (*core_domain.RecipientPref, error) {
	query := `
		SELECT id, tenant_id, recipient_key, channel_allow_json, quiet_hours_start, quiet_hours_end,
		       opted_out, opt_out_reason, opted_out_at, max_daily_messages, last_message_at,
		       created_at, updated_at
		FROM recipient_prefs WHERE tenant_id = $1 AND recipient_key = $2
	`
	pref := &core_domain.RecipientPref{}
	var channelAllowJSON []byte
	err := r.db.QueryRow(ctx, query, tenantID, recipientKey).Scan(
		&pref.ID, &pref.TenantID, &pref.RecipientKey, &channelAllowJSON,
		&pref.QuietHoursStart, &pref.QuietHoursEnd, &pref.OptedOut, &pref.OptOutReason,
		&pref.OptedOutAt, &pref.MaxDailyMsgs, &pref.LastMessageAt, &pref.CreatedAt, &pref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get recipient pref: %w", err)
	}
	if len(channelAllowJSON) > 0 {
		if err := json.Unmarshal(channelAllowJSON, &pref.ChannelAllow); err != nil {
			return nil, fmt.Errorf("unmarshal channel allow map: %w", err)
		}
	}
	return pref, nil
}

func (r *PgRecipientPrefRepository) TouchLastMessage(ctx context.Context, tenantID, recipientKey string) error {
	query := `
		INSERT INTO recipient_prefs (id, tenant_id, recipient_key, opted_out, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW(), NOW())
		ON CONFLICT (tenant_id, recipient_key)
		DO UPDATE SET last_message_at = NOW(), updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, uuid.NewString(), tenantID, recipientKey); err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

func (r *PgRecipientPrefRepository) SetOptOut(ctx context.Context, tenantID, recipientKey, reason string) error {
	query := `
		INSERT INTO recipient_prefs (id, tenant_id, recipient_key, opted_out, opt_out_reason, opted_out_at, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, NOW(), NOW(), NOW())
		ON CONFLICT (tenant_id, recipient_key)
		DO UPDATE SET opted_out = TRUE, opt_out_reason = $4, opted_out_at = NOW(), updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, uuid.NewString(), tenantID, recipientKey, reason); err != nil {
		return fmt.Errorf("set opt out: %w", err)
	}
	r.logger.InfoContext(ctx, "Recipient opted out", "tenant_id", tenantID, "recipient_key", recipientKey)
	return nil
}

func (r *PgRecipientPrefRepository) SetOptIn(ctx context.Context, tenantID, recipientKey string) error {
	query := `
		UPDATE recipient_prefs
		SET opted_out = FALSE, opt_out_reason = NULL, opted_out_at = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND recipient_key = $2
	`
	tag, err := r.db.Exec(ctx, query, tenantID, recipientKey)
	if err != nil {
		return fmt.Errorf("set opt in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Recipient opted in", "tenant_id", tenantID, "recipient_key", recipientKey)
	return nil
}
