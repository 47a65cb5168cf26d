package provider

import (
	"context"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// SendResult is the outcome of a successful provider hand-off.
type SendResult struct {
	ProviderMessageID string
	Meta              map[string]any
}

// Provider is one upstream delivery endpoint for a channel. Higher Priority
// is tried first; disabled providers are skipped.
type Provider interface {
	Name() string
	Priority() int
	Enabled() bool
	Send(ctx context.Context, msg *core_domain.Message) (*SendResult, error)
}
