package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
)

var messageColumnNames = []string{
	"id", "request_id", "tenant_id", "template_id", "template_code", "channel", "locale",
	"to_json", "rendered_title", "rendered_body", "routing_json", "ttl_expires_at", "attachments_json",
	"meta_json", "idempotency_key", "status", "retries", "provider_message_id", "error_code", "error_message",
	"error_details_json", "created_at", "updated_at", "sent_at", "delivered_at", "failed_at",
}

// insertArgMatchers matches the 19 INSERT placeholders of Create.
func insertArgMatchers() []any {
	args := make([]any, 19)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPgMessageRepository_Create(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("inserts a pending message", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`INSERT INTO messages`).
			WithArgs(insertArgMatchers()...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		msg := &core_domain.Message{
			RequestID:    "req_abc",
			TenantID:     "tn_1",
			TemplateCode: "welcome",
			Channel:      core_domain.ChannelSMS,
			Locale:       "en",
			Recipient:    core_domain.Recipient{Phone: "+4915112345678"},
			RenderedBody: "hello",
		}
		err = repo.Create(context.Background(), msg)

		assert.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, core_domain.StatusPending, msg.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate idempotency key", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`INSERT INTO messages`).
			WithArgs(insertArgMatchers()...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = repo.Create(context.Background(), &core_domain.Message{RequestID: "req_abc", TenantID: "tn_1"})
		assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
	})
}

func TestPgMessageRepository_GetByRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("scans a full row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		now := time.Now().UTC()
		rows := mockPool.NewRows(messageColumnNames).AddRow(
			"msg-1", "req_abc", "tn_1", nil, "welcome", "SMS", "en",
			[]byte(`{"phone":"+4915112345678"}`), nil, "hello", []byte(`{"priority":"NORMAL"}`), nil, nil,
			[]byte(`{"campaign":"summer"}`), nil, "PENDING", 0, nil, nil, nil,
			nil, now, now, nil, nil, nil,
		)
		mockPool.ExpectQuery(`(?s)SELECT (.+) FROM messages WHERE request_id = \$1`).
			WithArgs("req_abc").
			WillReturnRows(rows)

		msg, err := repo.GetByRequestID(context.Background(), "req_abc")

		require.NoError(t, err)
		assert.Equal(t, "req_abc", msg.RequestID)
		assert.Equal(t, core_domain.ChannelSMS, msg.Channel)
		assert.Equal(t, "+4915112345678", msg.Recipient.Phone)
		assert.Equal(t, core_domain.PriorityNormal, msg.Routing.Priority)
		assert.Equal(t, "summer", msg.Meta["campaign"])
		assert.Equal(t, core_domain.StatusPending, msg.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown request id maps to not found", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectQuery(`(?s)SELECT (.+) FROM messages WHERE request_id = \$1`).
			WithArgs("req_missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetByRequestID(context.Background(), "req_missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestPgMessageRepository_TransitionStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("won transition", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`UPDATE messages SET status = \$3, updated_at = \$4 WHERE id = \$1 AND status = \$2`).
			WithArgs("msg-1", core_domain.StatusPending, core_domain.StatusProcessing, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		claimed, err := repo.TransitionStatus(context.Background(), "msg-1", core_domain.StatusPending, core_domain.StatusProcessing)
		assert.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("lost transition", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`UPDATE messages SET status = \$3, updated_at = \$4 WHERE id = \$1 AND status = \$2`).
			WithArgs("msg-1", core_domain.StatusPending, core_domain.StatusProcessing, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		claimed, err := repo.TransitionStatus(context.Background(), "msg-1", core_domain.StatusPending, core_domain.StatusProcessing)
		assert.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestPgMessageRepository_Update(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	updateArgs := func(status, from core_domain.MessageStatus) []any {
		args := []any{"msg-1", status}
		for i := 0; i < 10; i++ {
			args = append(args, pgxmock.AnyArg())
		}
		return append(args, from)
	}

	t.Run("writes when the observed status still holds", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`(?s)UPDATE messages.*WHERE id = \$1 AND status = \$13`).
			WithArgs(updateArgs(core_domain.StatusSent, core_domain.StatusProcessing)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		msg := &core_domain.Message{ID: "msg-1", Status: core_domain.StatusSent}
		assert.NoError(t, repo.Update(context.Background(), msg, core_domain.StatusProcessing))
	})

	t.Run("stale status refuses the write", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`(?s)UPDATE messages.*WHERE id = \$1 AND status = \$13`).
			WithArgs(updateArgs(core_domain.StatusSent, core_domain.StatusProcessing)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		msg := &core_domain.Message{ID: "msg-1", Status: core_domain.StatusSent}
		err = repo.Update(context.Background(), msg, core_domain.StatusProcessing)
		assert.ErrorIs(t, err, repository.ErrStaleStatus)
	})
}

func TestPgMessageRepository_ClaimForRetry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("claims a failed message below the ceiling", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`UPDATE messages`).
			WithArgs("msg-1", core_domain.StatusPending, pgxmock.AnyArg(), core_domain.StatusFailed, core_domain.MaxRetries).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		claimed, err := repo.ClaimForRetry(context.Background(), "msg-1")
		assert.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("exhausted message is not claimed", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		repo := NewPgMessageRepository(mockPool, logger)

		mockPool.ExpectExec(`UPDATE messages`).
			WithArgs("msg-1", core_domain.StatusPending, pgxmock.AnyArg(), core_domain.StatusFailed, core_domain.MaxRetries).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		claimed, err := repo.ClaimForRetry(context.Background(), "msg-1")
		assert.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestPgMessageRepository_MarkExpiredIfUndelivered(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewPgMessageRepository(mockPool, logger)

	mockPool.ExpectExec(`UPDATE messages`).
		WithArgs("msg-1", core_domain.StatusExpired, pgxmock.AnyArg(), core_domain.StatusPending, core_domain.StatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	expired, err := repo.MarkExpiredIfUndelivered(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.True(t, expired)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
