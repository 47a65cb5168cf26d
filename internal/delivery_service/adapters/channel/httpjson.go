package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiResponse is the shape shared by the relay-style channel APIs.
type apiResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

// postJSON submits one JSON payload with bearer auth and decodes the relay
// response. Non-2xx statuses are errors carrying the response body.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded apiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		// Accepted; the provider message id is just unavailable.
		return &apiResponse{}, nil
	}
	return &decoded, nil
}
