package provider

import (
	"context"
	"log/slog"
	"sort"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// FallbackManager tries providers in order until one accepts the message:
// the preferred provider first when configured, then the rest by descending
// priority. Only when every enabled provider has failed does the send fail,
// with code ALL_PROVIDERS_FAILED.
type FallbackManager struct {
	providers []Provider
	preferred string
	logger    *slog.Logger
}

func NewFallbackManager(providers []Provider, preferred string, logger *slog.Logger) *FallbackManager {
	return &FallbackManager{
		providers: providers,
		preferred: preferred,
		logger:    logger.With("component", "provider_fallback"),
	}
}

// Send attempts delivery through the ordered provider chain.
func (m *FallbackManager) Send(ctx context.Context, msg *core_domain.Message) (*SendResult, string, error) {
	ordered := m.ordered()
	attempts := map[string]any{}

	for _, p := range ordered {
		if !p.Enabled() {
			continue
		}
		result, err := p.Send(ctx, msg)
		if err == nil {
			m.logger.InfoContext(ctx, "Provider accepted message",
				"provider", p.Name(), "request_id", msg.RequestID,
				"provider_message_id", result.ProviderMessageID)
			return result, p.Name(), nil
		}
		attempts[p.Name()] = err.Error()
		m.logger.WarnContext(ctx, "Provider failed, trying next",
			"provider", p.Name(), "request_id", msg.RequestID, "error", err)
	}

	if len(attempts) == 0 {
		attempts["reason"] = "no enabled providers"
	}
	return nil, "", &core_domain.DomainError{
		Code:    core_domain.ErrCodeAllProvidersFailed,
		Message: "every provider rejected the message",
		Details: attempts,
	}
}

// ordered returns the attempt order: preferred first, the rest by descending
// priority with name as the tie-breaker.
func (m *FallbackManager) ordered() []Provider {
	ordered := make([]Provider, len(m.providers))
	copy(ordered, m.providers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if m.preferred != "" {
			if ordered[i].Name() == m.preferred {
				return true
			}
			if ordered[j].Name() == m.preferred {
				return false
			}
		}
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() > ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})
	return ordered
}
