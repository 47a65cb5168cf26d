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

const pushProviderName = "push-gateway"

// PushAdapter delivers mobile push notifications through an HTTP push
// gateway.
type PushAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewPushAdapter(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *PushAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PushAdapter{
		logger:     logger.With("adapter", "push"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

func (a *PushAdapter) ChannelType() core_domain.ChannelType {
	return core_domain.ChannelPush
}

type pushPayload struct {
	Token string         `json:"token"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body"`
	Ref   string         `json:"ref"`
	Data  map[string]any `json:"data,omitempty"`
}

func (a *PushAdapter) Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error) {
	payload := pushPayload{
		Token: msg.Recipient.PushToken,
		Body:  msg.RenderedBody,
		Ref:   msg.RequestID,
		Data:  msg.Meta,
	}
	if msg.RenderedTitle != nil {
		payload.Title = *msg.RenderedTitle
	}

	resp, err := postJSON(ctx, a.httpClient, a.apiURL, a.apiKey, payload)
	if err != nil {
		return nil, "", fmt.Errorf("push gateway: %w", err)
	}

	a.logger.InfoContext(ctx, "Push handed to gateway",
		"request_id", msg.RequestID, "provider_message_id", resp.MessageID)
	return &provider.SendResult{
		ProviderMessageID: resp.MessageID,
		Meta:              map[string]any{"provider": pushProviderName},
	}, pushProviderName, nil
}
