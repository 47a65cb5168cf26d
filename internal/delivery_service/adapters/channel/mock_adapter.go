package channel

import (
	"context"
	"log/slog"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/provider"
)

// MockAdapter accepts every message for one channel without any upstream.
// Used in development mode for the channels that have no relay configured.
type MockAdapter struct {
	channel core_domain.ChannelType
	mock    *provider.MockProvider
}

func NewMockAdapter(logger *slog.Logger, channel core_domain.ChannelType, failRate float64) *MockAdapter {
	name := "mock-" + string(channel)
	return &MockAdapter{
		channel: channel,
		mock:    provider.NewMockProvider(logger, name, 0, failRate, 0, 0),
	}
}

func (a *MockAdapter) ChannelType() core_domain.ChannelType {
	return a.channel
}

func (a *MockAdapter) Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error) {
	result, err := a.mock.Send(ctx, msg)
	if err != nil {
		return nil, "", err
	}
	return result, a.mock.Name(), nil
}
