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

type PgTemplateRepository struct {
	db     repository.DB
	logger *slog.Logger
}

func NewPgTemplateRepository(db repository.DB, logger *slog.Logger) repository.TemplateRepository {
	return &PgTemplateRepository{db: db, logger: logger.With("component", "template_repository_pg")}
}

func (r *PgTemplateRepository) Get(ctx context.Context, tenantID, code string, channel core_domain.ChannelType, locale string) (*core_domain.Template, error) {
	query := `
		SELECT id, tenant_id, code, channel, locale, title_template, body_template,
		       buttons_json, status, version, created_at, updated_at
		FROM templates
		WHERE tenant_id = $1 AND code = $2 AND channel = $3 AND locale = $4
	`
	tpl := &core_domain.Template{}
	var (
		channelStr  string
		status      string
		title       *string
		buttonsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, tenantID, code, string(channel), locale).Scan(
		&tpl.ID, &tpl.TenantID, &tpl.Code, &channelStr, &tpl.Locale, &title, &tpl.BodyTemplate,
		&buttonsJSON, &status, &tpl.Version, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	tpl.Channel = core_domain.ChannelType(channelStr)
	tpl.Status = core_domain.TemplateStatus(status)
	if title != nil {
		tpl.TitleTemplate = *title
	}
	if len(buttonsJSON) > 0 {
		if err := json.Unmarshal(buttonsJSON, &tpl.Buttons); err != nil {
			return nil, fmt.Errorf("unmarshal template buttons: %w", err)
		}
	}
	return tpl, nil
}
