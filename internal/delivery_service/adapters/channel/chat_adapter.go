package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/provider"
)

const chatProviderName = "chat-business"

// ChatAdapter delivers business chat messages. The sender key identifies the
// registered business profile at the chat platform.
type ChatAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
	senderKey  string
}

func NewChatAdapter(logger *slog.Logger, apiURL, apiKey, senderKey string, httpClient *http.Client) *ChatAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ChatAdapter{
		logger:     logger.With("adapter", "chat"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
		senderKey:  senderKey,
	}
}

func (a *ChatAdapter) ChannelType() core_domain.ChannelType {
	return core_domain.ChannelChat
}

type chatPayload struct {
	SenderKey string         `json:"senderKey"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body"`
	Ref       string         `json:"ref"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func (a *ChatAdapter) Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error) {
	payload := chatPayload{
		SenderKey: a.senderKey,
		UserID:    msg.Recipient.ChatUserID,
		Body:      msg.RenderedBody,
		Ref:       msg.RequestID,
		Meta:      msg.Meta,
	}
	if msg.RenderedTitle != nil {
		payload.Title = *msg.RenderedTitle
	}

	resp, err := postJSON(ctx, a.httpClient, a.apiURL, a.apiKey, payload)
	if err != nil {
		return nil, "", fmt.Errorf("chat platform: %w", err)
	}

	a.logger.InfoContext(ctx, "Chat message handed to platform",
		"request_id", msg.RequestID, "provider_message_id", resp.MessageID)
	return &provider.SendResult{
		ProviderMessageID: resp.MessageID,
		Meta:              map[string]any{"provider": chatProviderName},
	}, chatProviderName, nil
}
