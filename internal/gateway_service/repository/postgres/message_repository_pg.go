package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

const messageColumns = `id, request_id, tenant_id, template_id, template_code, channel, locale,
	to_json, rendered_title, rendered_body, routing_json, ttl_expires_at, attachments_json,
	meta_json, idempotency_key, status, retries, provider_message_id, error_code, error_message,
	error_details_json, created_at, updated_at, sent_at, delivered_at, failed_at`

type PgMessageRepository struct {
	db     repository.DB
	logger *slog.Logger
}

func NewPgMessageRepository(db repository.DB, logger *slog.Logger) repository.MessageRepository {
	return &PgMessageRepository{db: db, logger: logger.With("component", "message_repository_pg")}
}

func (r *PgMessageRepository) Create(ctx context.Context, msg *core_domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = core_domain.StatusPending
	}

	toJSON, err := json.Marshal(msg.Recipient)
	if err != nil {
		return fmt.Errorf("marshal recipient: %w", err)
	}
	routingJSON, err := json.Marshal(msg.Routing)
	if err != nil {
		return fmt.Errorf("marshal routing: %w", err)
	}
	attachmentsJSON, err := marshalNullable(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	metaJSON, err := marshalNullable(msg.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	query := `
		INSERT INTO messages (
			id, request_id, tenant_id, template_id, template_code, channel, locale,
			to_json, rendered_title, rendered_body, routing_json, ttl_expires_at,
			attachments_json, meta_json, idempotency_key, status, retries, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
	`
	_, err = r.db.Exec(ctx, query,
		msg.ID, msg.RequestID, msg.TenantID, msg.TemplateID, msg.TemplateCode, string(msg.Channel), msg.Locale,
		toJSON, msg.RenderedTitle, msg.RenderedBody, routingJSON, msg.TTLExpiresAt,
		attachmentsJSON, metaJSON, msg.IdempotencyKey, msg.Status, msg.Retries, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *PgMessageRepository) GetByRequestID(ctx context.Context, requestID string) (*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE request_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, requestID))
}

func (r *PgMessageRepository) GetByIdempotencyKey(ctx context.Context, key string) (*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE idempotency_key = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, key))
}

func (r *PgMessageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, providerMessageID))
}

func (r *PgMessageRepository) ListByTenant(ctx context.Context, tenantID string, status *core_domain.MessageStatus, page, size int) ([]*core_domain.Message, int64, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	offset := page * size

	var total int64
	var rows pgx.Rows
	var err error
	if status != nil {
		countQuery := `SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND status = $2`
		if err = r.db.QueryRow(ctx, countQuery, tenantID, *status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count messages: %w", err)
		}
		query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		rows, err = r.db.Query(ctx, query, tenantID, *status, size, offset)
	} else {
		countQuery := `SELECT COUNT(*) FROM messages WHERE tenant_id = $1`
		if err = r.db.QueryRow(ctx, countQuery, tenantID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count messages: %w", err)
		}
		query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.db.Query(ctx, query, tenantID, size, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*core_domain.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, total, nil
}

func (r *PgMessageRepository) TransitionStatus(ctx context.Context, id string, from, to core_domain.MessageStatus) (bool, error) {
	query := `UPDATE messages SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	tag, err := r.db.Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgMessageRepository) Update(ctx context.Context, msg *core_domain.Message, from core_domain.MessageStatus) error {
	metaJSON, err := marshalNullable(msg.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	errorDetailsJSON, err := marshalNullable(msg.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal error details: %w", err)
	}

	now := time.Now().UTC()
	msg.UpdatedAt = now
	// Guarded on the status the caller observed: if the row moved on (for
	// example the TTL sweep expired it mid-delivery) the write is refused.
	query := `
		UPDATE messages
		SET status = $2, retries = $3, provider_message_id = $4, error_code = $5,
		    error_message = $6, error_details_json = $7, meta_json = $8,
		    sent_at = $9, delivered_at = $10, failed_at = $11, updated_at = $12
		WHERE id = $1 AND status = $13
	`
	tag, err := r.db.Exec(ctx, query,
		msg.ID, msg.Status, msg.Retries, msg.ProviderMessageID, msg.ErrorCode,
		msg.ErrorMessage, errorDetailsJSON, metaJSON,
		msg.SentAt, msg.DeliveredAt, msg.FailedAt, now, from,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleStatus
	}
	return nil
}

func (r *PgMessageRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (r *PgMessageRepository) ClaimForRetry(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE messages
		SET status = $2, retries = retries + 1, updated_at = $3
		WHERE id = $1 AND status = $4 AND retries < $5
		  AND (ttl_expires_at IS NULL OR ttl_expires_at > $3)
	`
	tag, err := r.db.Exec(ctx, query, id, core_domain.StatusPending, time.Now().UTC(),
		core_domain.StatusFailed, core_domain.MaxRetries)
	if err != nil {
		return false, fmt.Errorf("claim for retry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgMessageRepository) MarkExpiredIfUndelivered(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE messages
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`
	tag, err := r.db.Exec(ctx, query, id, core_domain.StatusExpired, time.Now().UTC(),
		core_domain.StatusPending, core_domain.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgMessageRepository) FindRetryCandidates(ctx context.Context, limit int) ([]*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE status = $1 AND retries < $2
		  AND (ttl_expires_at IS NULL OR ttl_expires_at > $3)
		ORDER BY updated_at ASC LIMIT $4`
	rows, err := r.db.Query(ctx, query, core_domain.StatusFailed, core_domain.MaxRetries, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find retry candidates: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PgMessageRepository) FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE status IN ($1, $2) AND ttl_expires_at IS NOT NULL AND ttl_expires_at <= $3
		ORDER BY ttl_expires_at ASC LIMIT $4`
	rows, err := r.db.Query(ctx, query, core_domain.StatusPending, core_domain.StatusProcessing, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired candidates: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PgMessageRepository) collect(rows pgx.Rows) ([]*core_domain.Message, error) {
	var messages []*core_domain.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (r *PgMessageRepository) scanOne(row pgx.Row) (*core_domain.Message, error) {
	msg, err := r.scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// scanMessage reads one row in messageColumns order.
func (r *PgMessageRepository) scanMessage(row pgx.Row) (*core_domain.Message, error) {
	msg := &core_domain.Message{}
	var (
		channel          string
		toJSON           []byte
		routingJSON      []byte
		attachmentsJSON  []byte
		metaJSON         []byte
		errorDetailsJSON []byte
	)
	err := row.Scan(
		&msg.ID, &msg.RequestID, &msg.TenantID, &msg.TemplateID, &msg.TemplateCode, &channel, &msg.Locale,
		&toJSON, &msg.RenderedTitle, &msg.RenderedBody, &routingJSON, &msg.TTLExpiresAt, &attachmentsJSON,
		&metaJSON, &msg.IdempotencyKey, &msg.Status, &msg.Retries, &msg.ProviderMessageID, &msg.ErrorCode,
		&msg.ErrorMessage, &errorDetailsJSON, &msg.CreatedAt, &msg.UpdatedAt, &msg.SentAt, &msg.DeliveredAt, &msg.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Channel = core_domain.ChannelType(channel)

	if err := json.Unmarshal(toJSON, &msg.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	if err := json.Unmarshal(routingJSON, &msg.Routing); err != nil {
		return nil, fmt.Errorf("unmarshal routing: %w", err)
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &msg.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	if len(errorDetailsJSON) > 0 {
		if err := json.Unmarshal(errorDetailsJSON, &msg.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	return msg, nil
}

// marshalNullable keeps empty collections as SQL NULL instead of "null" JSON.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []core_domain.Attachment:
		if len(val) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(v)
}
