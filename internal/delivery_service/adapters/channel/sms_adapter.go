package channel

import (
	"context"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/provider"
)

// SMSAdapter delivers through the SMS provider chain. It is the only channel
// with multiple interchangeable upstreams, so it delegates provider choice to
// the fallback manager.
type SMSAdapter struct {
	fallback *provider.FallbackManager
}

func NewSMSAdapter(fallback *provider.FallbackManager) *SMSAdapter {
	return &SMSAdapter{fallback: fallback}
}

func (a *SMSAdapter) ChannelType() core_domain.ChannelType {
	return core_domain.ChannelSMS
}

func (a *SMSAdapter) Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error) {
	return a.fallback.Send(ctx, msg)
}
