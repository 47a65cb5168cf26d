package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

type PgMessageEventRepository struct {
	db     repository.DB
	logger *slog.Logger
}

func NewPgMessageEventRepository(db repository.DB, logger *slog.Logger) repository.MessageEventRepository {
	return &PgMessageEventRepository{db: db, logger: logger.With("component", "message_event_repository_pg")}
}

func (r *PgMessageEventRepository) Append(ctx context.Context, event *core_domain.MessageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
		INSERT INTO message_events (id, message_id, request_id, event_type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Exec(ctx, query,
		event.ID, event.MessageID, event.RequestID, string(event.EventType), payloadJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message event: %w", err)
	}
	return nil
}

func (r *PgMessageEventRepository) DeleteByRequestID(ctx context.Context, requestID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM message_events WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("delete message events: %w", err)
	}
	return nil
}

func (r *PgMessageEventRepository) ListByRequestID(ctx context.Context, requestID string) ([]*core_domain.MessageEvent, error) {
	query := `
		SELECT id, message_id, request_id, event_type, payload_json, created_at
		FROM message_events WHERE request_id = $1 ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list message events: %w", err)
	}
	defer rows.Close()

	var events []*core_domain.MessageEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*core_domain.MessageEvent, error) {
	event := &core_domain.MessageEvent{}
	var eventType string
	var payloadJSON []byte
	if err := row.Scan(&event.ID, &event.MessageID, &event.RequestID, &eventType, &payloadJSON, &event.CreatedAt); err != nil {
		return nil, err
	}
	event.EventType = core_domain.EventType(eventType)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return event, nil
}
