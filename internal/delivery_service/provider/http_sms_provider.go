package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// HTTPSMSProvider submits SMS messages to an upstream JSON API. Both the
// primary and secondary SMS endpoints use this shape; they differ only in
// URL, key and priority.
type HTTPSMSProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	name       string
	apiURL     string
	apiKey     string
	priority   int
}

func NewHTTPSMSProvider(logger *slog.Logger, name, apiURL, apiKey string, priority int, httpClient *http.Client) *HTTPSMSProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSMSProvider{
		logger:     logger.With("provider", name),
		httpClient: httpClient,
		name:       name,
		apiURL:     apiURL,
		apiKey:     apiKey,
		priority:   priority,
	}
}

func (p *HTTPSMSProvider) Name() string { return p.name }
func (p *HTTPSMSProvider) Priority() int { return p.priority }
func (p *HTTPSMSProvider) Enabled() bool { return p.apiURL != "" }

type smsSendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
	Ref  string `json:"ref"`
}

type smsSendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func (p *HTTPSMSProvider) Send(ctx context.Context, msg *core_domain.Message) (*SendResult, error) {
	reqBody, err := json.Marshal(smsSendRequest{
		To:   msg.Recipient.Phone,
		Body: msg.RenderedBody,
		Ref:  msg.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request for %s: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response (status %d): %w", p.name, httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		p.logger.WarnContext(ctx, "Provider rejected message",
			"status_code", httpResp.StatusCode, "request_id", msg.RequestID)
		return nil, fmt.Errorf("%s returned status %d: %s", p.name, httpResp.StatusCode, string(respBody))
	}

	var resp smsSendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// HTTP success with an unparseable body still counts as accepted;
		// the provider message id is just unavailable.
		p.logger.WarnContext(ctx, "Accepted but response body unparseable",
			"status_code", httpResp.StatusCode, "request_id", msg.RequestID)
		return &SendResult{Meta: map[string]any{"provider": p.name}}, nil
	}

	return &SendResult{
		ProviderMessageID: resp.MessageID,
		Meta:              map[string]any{"provider": p.name, "providerStatus": resp.Status},
	}, nil
}
