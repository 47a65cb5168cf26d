package channel

import (
	"context"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/provider"
)

// Adapter turns a rendered message into one channel's provider call. Exactly
// one adapter handles each ChannelType.
type Adapter interface {
	ChannelType() core_domain.ChannelType
	Send(ctx context.Context, msg *core_domain.Message) (*provider.SendResult, string, error)
}
