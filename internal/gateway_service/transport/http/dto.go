package http

import (
	"time"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// SendMessageRequest is the body of POST /v1/messages.
type SendMessageRequest struct {
	Channel      string             `json:"channel" validate:"required,oneof=SMS EMAIL CHAT_BUSINESS_MESSAGE PUSH"`
	TemplateCode string             `json:"templateCode" validate:"required,max=64"`
	Locale       string             `json:"locale,omitempty" validate:"omitempty,max=16"`
	To           RecipientDTO       `json:"to" validate:"required"`
	Variables    map[string]string  `json:"variables,omitempty"`
	Routing      *RoutingDTO        `json:"routing,omitempty"`
	Attachments  []AttachmentDTO    `json:"attachments,omitempty" validate:"omitempty,max=10,dive"`
	Meta         map[string]any     `json:"meta,omitempty"`
}

type RecipientDTO struct {
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	PushToken  string `json:"pushToken,omitempty"`
	ChatUserID string `json:"chatUserId,omitempty"`
}

type RoutingDTO struct {
	Priority   string   `json:"priority,omitempty" validate:"omitempty,oneof=HIGH NORMAL LOW"`
	Fallback   []string `json:"fallback,omitempty"`
	TTLSeconds int      `json:"ttlSeconds,omitempty" validate:"omitempty,min=0,max=604800"`
}

type AttachmentDTO struct {
	Type     string `json:"type" validate:"required"`
	URL      string `json:"url" validate:"required,url"`
	Filename string `json:"filename,omitempty"`
}

// SendMessageResponse acknowledges an admitted (or replayed) message.
type SendMessageResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// MessageStatusResponse is the read model for GET /v1/messages/{requestId}.
type MessageStatusResponse struct {
	RequestID         string              `json:"requestId"`
	Channel           string              `json:"channel"`
	TemplateCode      string              `json:"templateCode"`
	Status            string              `json:"status"`
	Retries           int                 `json:"retries"`
	ProviderMessageID *string             `json:"providerMessageId,omitempty"`
	ErrorCode         *string             `json:"errorCode,omitempty"`
	ErrorMessage      *string             `json:"errorMessage,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	SentAt            *time.Time          `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time          `json:"deliveredAt,omitempty"`
	FailedAt          *time.Time          `json:"failedAt,omitempty"`
	TTLExpiresAt      *time.Time          `json:"ttlExpiresAt,omitempty"`
	Events            []MessageEventDTO   `json:"events,omitempty"`
}

type MessageEventDTO struct {
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MessageListResponse pages through a tenant's messages.
type MessageListResponse struct {
	Items      []MessageStatusResponse `json:"items"`
	Page       int                     `json:"page"`
	Size       int                     `json:"size"`
	TotalItems int64                   `json:"totalItems"`
}

// OptOutRequest is the body of the recipient opt-out and opt-in endpoints.
type OptOutRequest struct {
	Recipient string `json:"recipient" validate:"required,max=256"`
	Reason    string `json:"reason,omitempty" validate:"omitempty,max=128"`
}

func toMessageStatusResponse(msg *core_domain.Message, events []*core_domain.MessageEvent) MessageStatusResponse {
	resp := MessageStatusResponse{
		RequestID:         msg.RequestID,
		Channel:           string(msg.Channel),
		TemplateCode:      msg.TemplateCode,
		Status:            string(msg.Status),
		Retries:           msg.Retries,
		ProviderMessageID: msg.ProviderMessageID,
		ErrorCode:         msg.ErrorCode,
		ErrorMessage:      msg.ErrorMessage,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
		SentAt:            msg.SentAt,
		DeliveredAt:       msg.DeliveredAt,
		FailedAt:          msg.FailedAt,
		TTLExpiresAt:      msg.TTLExpiresAt,
	}
	for _, event := range events {
		resp.Events = append(resp.Events, MessageEventDTO{
			EventType: string(event.EventType),
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
	}
	return resp
}
