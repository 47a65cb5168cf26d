package core_domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType labels a message lifecycle transition in the audit trail.
type EventType string

const (
	EventRequested EventType = "REQUESTED"
	EventQueued    EventType = "QUEUED"
	EventSent      EventType = "SENT"
	EventDelivered EventType = "DELIVERED"
	EventFailed    EventType = "FAILED"
	EventExpired   EventType = "EXPIRED"
	EventRetried   EventType = "RETRIED"
	EventCancelled EventType = "CANCELLED"
	EventRead      EventType = "READ"
)

// MessageEvent is the append-only audit record of one lifecycle transition.
// Rows are write-once; they exist for traceability only.
type MessageEvent struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	RequestID string         `json:"request_id"`
	EventType EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessageEvent snapshots the relevant message state for one transition.
func NewMessageEvent(msg *Message, eventType EventType, payload map[string]any) *MessageEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(msg.Status)
	payload["channel"] = string(msg.Channel)
	if msg.ProviderMessageID != nil {
		payload["providerMessageId"] = *msg.ProviderMessageID
	}
	if msg.ErrorCode != nil {
		payload["errorCode"] = *msg.ErrorCode
	}
	return &MessageEvent{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		RequestID: msg.RequestID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// MessageRequestedEvent is the bus payload published at admission, keyed by
// request id. It is intentionally flat: enough to re-look-up the Message.
type MessageRequestedEvent struct {
	Type         string `json:"type"`
	RequestID    string `json:"requestId"`
	TenantID     string `json:"tenantId"`
	Channel      string `json:"channel"`
	TemplateCode string `json:"templateCode"`
	Priority     string `json:"priority"`
	Timestamp    string `json:"timestamp"`
}

// NewMessageRequestedEvent builds the admission event for msg.
func NewMessageRequestedEvent(msg *Message) MessageRequestedEvent {
	return MessageRequestedEvent{
		Type:         "MESSAGE_REQUESTED",
		RequestID:    msg.RequestID,
		TenantID:     msg.TenantID,
		Channel:      string(msg.Channel),
		TemplateCode: msg.TemplateCode,
		Priority:     string(msg.Routing.Priority),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// DeliveryStatusEvent is the bus payload carrying asynchronous provider
// delivery callbacks, keyed by provider message id.
type DeliveryStatusEvent struct {
	Type              string `json:"type"`
	ProviderMessageID string `json:"providerMessageId"`
	Status            string `json:"status"`
	ErrorCode         string `json:"errorCode,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// StatusChangedEvent fans out message status transitions to downstream
// listeners (webhooks, analytics).
type StatusChangedEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	TenantID  string `json:"tenantId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
	Timestamp string `json:"timestamp"`
}

// Encode marshals any bus event payload.
func Encode(event any) ([]byte, error) {
	return json.Marshal(event)
}
