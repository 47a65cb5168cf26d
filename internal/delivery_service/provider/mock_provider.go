package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// MockProvider simulates an upstream provider for development and tests:
// configurable latency and failure rate, no network.
type MockProvider struct {
	logger       *slog.Logger
	name         string
	priority     int
	failRate     float64
	minLatencyMs int
	maxLatencyMs int
}

func NewMockProvider(logger *slog.Logger, name string, priority int, failRate float64, minLatencyMs, maxLatencyMs int) *MockProvider {
	if name == "" {
		name = "mock-provider"
	}
	return &MockProvider{
		logger:       logger.With("provider", name),
		name:         name,
		priority:     priority,
		failRate:     failRate,
		minLatencyMs: minLatencyMs,
		maxLatencyMs: maxLatencyMs,
	}
}

func (p *MockProvider) Name() string  { return p.name }
func (p *MockProvider) Priority() int { return p.priority }
func (p *MockProvider) Enabled() bool { return true }

func (p *MockProvider) Send(ctx context.Context, msg *core_domain.Message) (*SendResult, error) {
	if p.maxLatencyMs > p.minLatencyMs {
		latency := p.minLatencyMs + rand.Intn(p.maxLatencyMs-p.minLatencyMs+1)
		time.Sleep(time.Duration(latency) * time.Millisecond)
	}

	if rand.Float64() < p.failRate {
		p.logger.WarnContext(ctx, "Simulated provider failure", "request_id", msg.RequestID)
		return nil, fmt.Errorf("%s: simulated failure", p.name)
	}

	providerMsgID := uuid.NewString()
	p.logger.InfoContext(ctx, "Simulated provider accept",
		"request_id", msg.RequestID, "provider_message_id", providerMsgID)
	return &SendResult{
		ProviderMessageID: providerMsgID,
		Meta:              map[string]any{"provider": p.name, "simulated": true},
	}, nil
}
