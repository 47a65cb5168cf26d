package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// DB is the subset of pgxpool.Pool the repositories need. pgxmock satisfies
// it too, which keeps the SQL testable without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageRepository persists the Message aggregate. The aggregate is created
// once at admission; afterwards only status transitions are written, always
// guarded so terminal states never regress.
type MessageRepository interface {
	Create(ctx context.Context, msg *core_domain.Message) error
	GetByRequestID(ctx context.Context, requestID string) (*core_domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*core_domain.Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*core_domain.Message, error)
	ListByTenant(ctx context.Context, tenantID string, status *core_domain.MessageStatus, page, size int) ([]*core_domain.Message, int64, error)

	// TransitionStatus atomically moves a message from one status to another
	// and reports whether this caller won the transition.
	TransitionStatus(ctx context.Context, id string, from, to core_domain.MessageStatus) (bool, error)
	// Update writes the mutable delivery fields (status, provider id, errors,
	// timestamps, meta) of an existing message. The write only applies while
	// the row is still in the status the caller observed; otherwise
	// ErrStaleStatus is returned, so a terminal status can never be
	// overwritten by a slow in-flight attempt.
	Update(ctx context.Context, msg *core_domain.Message, from core_domain.MessageStatus) error
	// Delete removes a message row. Only used to unwind an admission whose
	// bus hand-off failed; delivered traffic is never deleted.
	Delete(ctx context.Context, id string) error

	// ClaimForRetry re-arms one FAILED message below the retry ceiling:
	// status back to PENDING, retry counter incremented, in one statement.
	ClaimForRetry(ctx context.Context, id string) (bool, error)
	// MarkExpiredIfUndelivered transitions PENDING/PROCESSING to EXPIRED.
	MarkExpiredIfUndelivered(ctx context.Context, id string) (bool, error)

	FindRetryCandidates(ctx context.Context, limit int) ([]*core_domain.Message, error)
	FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*core_domain.Message, error)
}

// MessageEventRepository is the append-only audit trail. DeleteByRequestID
// exists solely for the admission unwind path and mirrors MessageRepository.Delete.
type MessageEventRepository interface {
	Append(ctx context.Context, event *core_domain.MessageEvent) error
	ListByRequestID(ctx context.Context, requestID string) ([]*core_domain.MessageEvent, error)
	DeleteByRequestID(ctx context.Context, requestID string) error
}

// TenantRepository resolves credentials to tenants.
type TenantRepository interface {
	GetByAPIKeyDigest(ctx context.Context, digest string) (*core_domain.Tenant, error)
	// ConsumeCredit decrements a finite credit balance; reports false when
	// the balance is exhausted. Unlimited (NULL) balances always succeed.
	ConsumeCredit(ctx context.Context, tenantID string) (bool, error)
}

// TemplateRepository loads templates by their unique (code, channel, locale) key.
type TemplateRepository interface {
	Get(ctx context.Context, tenantID, code string, channel core_domain.ChannelType, locale string) (*core_domain.Template, error)
}

// RecipientPrefRepository stores per-recipient delivery preferences.
type RecipientPrefRepository interface {
	Get(ctx context.Context, tenantID, recipientKey string) (*core_domain.RecipientPref, error)
	// TouchLastMessage lazily creates the pref row and stamps last_message_at.
	TouchLastMessage(ctx context.Context, tenantID, recipientKey string) error
	SetOptOut(ctx context.Context, tenantID, recipientKey, reason string) error
	SetOptIn(ctx context.Context, tenantID, recipientKey string) error
}
