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

const emailProviderName = "email-relay"

// EmailAdapter delivers through an HTTP email relay. The rendered title
// becomes the subject.
type EmailAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewEmailAdapter(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *EmailAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EmailAdapter{
		logger:     logger.With("adapter", "email"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

func (a *EmailAdapter) ChannelType() core_domain.ChannelType {
	return core_domain.ChannelEmail
}

type emailPayload struct {
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Ref         string            `json:"ref"`
	Attachments []emailAttachment `json:"attachments,omitempty"`
}

type emailAttachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

func (a *EmailAdapter) Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error) {
	payload := emailPayload{
		To:   msg.Recipient.Email,
		Body: msg.RenderedBody,
		Ref:  msg.RequestID,
	}
	if msg.RenderedTitle != nil {
		payload.Subject = *msg.RenderedTitle
	}
	for _, att := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, emailAttachment{
			Type:     att.Type,
			URL:      att.URL,
			Filename: att.Filename,
		})
	}

	resp, err := postJSON(ctx, a.httpClient, a.apiURL, a.apiKey, payload)
	if err != nil {
		return nil, "", fmt.Errorf("email relay: %w", err)
	}

	a.logger.InfoContext(ctx, "Email handed to relay",
		"request_id", msg.RequestID, "provider_message_id", resp.MessageID)
	return &provider.SendResult{
		ProviderMessageID: resp.MessageID,
		Meta:              map[string]any{"provider": emailProviderName},
	}, emailProviderName, nil
}
