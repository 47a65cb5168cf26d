package app

import (
	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/delivery_service/adapters/channel"
)

// Router maps a message's channel to the adapter that delivers it.
type Router struct {
	adapters map[core_domain.ChannelType]channel.Adapter
}

func NewRouter(adapters ...channel.Adapter) *Router {
	byChannel := make(map[core_domain.ChannelType]channel.Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.ChannelType()] = a
	}
	return &Router{adapters: byChannel}
}

// Route returns the adapter for ch, or false when the deployment has none.
func (r *Router) Route(ch core_domain.ChannelType) (channel.Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}
