package core_domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MaxRetries is the retry ceiling for failed deliveries; a FAILED message at
// this count is terminal.
const MaxRetries = 3

// ChannelType identifies the transport a message is delivered through.
type ChannelType string

const (
	ChannelSMS   ChannelType = "SMS"
	ChannelEmail ChannelType = "EMAIL"
	ChannelChat  ChannelType = "CHAT_BUSINESS_MESSAGE"
	ChannelPush  ChannelType = "PUSH"
)

// KnownChannels lists every supported channel.
var KnownChannels = []ChannelType{ChannelSMS, ChannelEmail, ChannelChat, ChannelPush}

// IsValid reports whether ct is a supported channel.
func (ct ChannelType) IsValid() bool {
	switch ct {
	case ChannelSMS, ChannelEmail, ChannelChat, ChannelPush:
		return true
	}
	return false
}

// Priority orders delivery of admitted messages.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// MessageStatus is the delivery state machine:
// PENDING -> PROCESSING -> {SENT -> DELIVERED} | FAILED | EXPIRED | CANCELLED.
type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusSent       MessageStatus = "SENT"
	StatusDelivered  MessageStatus = "DELIVERED"
	StatusFailed     MessageStatus = "FAILED"
	StatusExpired    MessageStatus = "EXPIRED"
	StatusCancelled  MessageStatus = "CANCELLED"
)

// Value implements driver.Valuer for MessageStatus.
func (ms MessageStatus) Value() (driver.Value, error) {
	return string(ms), nil
}

// Scan implements sql.Scanner for MessageStatus.
func (ms *MessageStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan MessageStatus: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*ms = MessageStatus(strVal)
	switch *ms {
	case StatusPending, StatusProcessing, StatusSent, StatusDelivered, StatusFailed, StatusExpired, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown MessageStatus value: %s", strVal)
	}
}

// Recipient is the channel-shaped recipient descriptor. Exactly one field is
// populated per channel.
type Recipient struct {
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	PushToken  string `json:"pushToken,omitempty"`
	ChatUserID string `json:"chatUserId,omitempty"`
}

// Key returns the identifier used for rate limiting and preference lookups.
func (r Recipient) Key() string {
	switch {
	case r.Phone != "":
		return r.Phone
	case r.Email != "":
		return r.Email
	case r.ChatUserID != "":
		return r.ChatUserID
	case r.PushToken != "":
		return r.PushToken
	}
	return ""
}

// Attachment is an admission-supplied file reference.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// Routing holds the caller's delivery hints.
type Routing struct {
	Priority   Priority      `json:"priority"`
	Fallback   []ChannelType `json:"fallback,omitempty"`
	TTLSeconds int           `json:"ttlSeconds,omitempty"`
}

// Message is the central aggregate. Created once at admission, then mutated
// only by the delivery consumer and the recovery process; never deleted.
type Message struct {
	ID                string         `json:"id"`
	RequestID         string         `json:"request_id"`
	TenantID          string         `json:"tenant_id"`
	TemplateID        *string        `json:"template_id,omitempty"`
	TemplateCode      string         `json:"template_code"`
	Channel           ChannelType    `json:"channel"`
	Locale            string         `json:"locale"`
	Recipient         Recipient      `json:"to"`
	RenderedTitle     *string        `json:"rendered_title,omitempty"`
	RenderedBody      string         `json:"rendered_body"`
	Routing           Routing        `json:"routing"`
	TTLExpiresAt      *time.Time     `json:"ttl_expires_at,omitempty"`
	Attachments       []Attachment   `json:"attachments,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
	IdempotencyKey    *string        `json:"idempotency_key,omitempty"`
	Status            MessageStatus  `json:"status"`
	Retries           int            `json:"retries"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	ErrorCode         *string        `json:"error_code,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	ErrorDetails      map[string]any `json:"error_details,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	FailedAt          *time.Time     `json:"failed_at,omitempty"`
}

// MarkSent records a successful provider hand-off.
func (m *Message) MarkSent(providerMessageID string, meta map[string]any) {
	now := time.Now().UTC()
	m.Status = StatusSent
	m.ProviderMessageID = &providerMessageID
	m.SentAt = &now
	if meta != nil {
		if m.Meta == nil {
			m.Meta = map[string]any{}
		}
		for k, v := range meta {
			m.Meta[k] = v
		}
	}
}

// MarkDelivered records a provider delivery confirmation.
func (m *Message) MarkDelivered() {
	now := time.Now().UTC()
	m.Status = StatusDelivered
	m.DeliveredAt = &now
}

// MarkFailed records a delivery failure.
func (m *Message) MarkFailed(code, message string, details map[string]any) {
	now := time.Now().UTC()
	m.Status = StatusFailed
	m.ErrorCode = &code
	m.ErrorMessage = &message
	m.ErrorDetails = details
	m.FailedAt = &now
}

// MarkExpired transitions an undelivered message past its TTL.
func (m *Message) MarkExpired() {
	m.Status = StatusExpired
}

// IncrementRetries bumps the retry counter; called by the recovery process
// when it re-drives a failed message, not by the first delivery attempt.
func (m *Message) IncrementRetries() {
	m.Retries++
}

// CanRetry reports whether the recovery process may re-drive this message.
func (m *Message) CanRetry() bool {
	return m.Status == StatusFailed && m.Retries < MaxRetries
}

// IsExpired reports whether the message's TTL has elapsed.
func (m *Message) IsExpired() bool {
	return m.TTLExpiresAt != nil && m.TTLExpiresAt.Before(time.Now().UTC())
}

// IsTerminal reports whether no further transition is possible.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case StatusDelivered, StatusExpired, StatusCancelled:
		return true
	case StatusFailed:
		return m.Retries >= MaxRetries
	}
	return false
}
