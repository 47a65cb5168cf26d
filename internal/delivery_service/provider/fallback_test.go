package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

type scriptedProvider struct {
	name     string
	priority int
	enabled  bool
	err      error
	calls    int
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) Priority() int { return p.priority }
func (p *scriptedProvider) Enabled() bool { return p.enabled }

func (p *scriptedProvider) Send(ctx context.Context, msg *core_domain.Message) (*SendResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &SendResult{ProviderMessageID: p.name + "-msg"}, nil
}

func testMessage() *core_domain.Message {
	return &core_domain.Message{
		ID:        "m1",
		RequestID: "req_0011223344556677",
		Channel:   core_domain.ChannelSMS,
		Recipient: core_domain.Recipient{Phone: "+15550001111"},
	}
}

func newManager(preferred string, providers ...Provider) *FallbackManager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFallbackManager(providers, preferred, logger)
}

func TestFallbackManagerSend(t *testing.T) {
	ctx := context.Background()

	t.Run("highest priority provider wins", func(t *testing.T) {
		low := &scriptedProvider{name: "low", priority: 1, enabled: true}
		high := &scriptedProvider{name: "high", priority: 10, enabled: true}

		result, name, err := newManager("", low, high).Send(ctx, testMessage())
		require.NoError(t, err)
		assert.Equal(t, "high", name)
		assert.Equal(t, "high-msg", result.ProviderMessageID)
		assert.Zero(t, low.calls)
	})

	t.Run("falls back past a failing provider", func(t *testing.T) {
		primary := &scriptedProvider{name: "primary", priority: 10, enabled: true, err: errors.New("timeout")}
		secondary := &scriptedProvider{name: "secondary", priority: 1, enabled: true}

		result, name, err := newManager("", primary, secondary).Send(ctx, testMessage())
		require.NoError(t, err)
		assert.Equal(t, "secondary", name)
		assert.Equal(t, "secondary-msg", result.ProviderMessageID)
		assert.Equal(t, 1, primary.calls)
	})

	t.Run("preferred provider is tried first regardless of priority", func(t *testing.T) {
		big := &scriptedProvider{name: "big", priority: 10, enabled: true}
		pref := &scriptedProvider{name: "pref", priority: 1, enabled: true}

		_, name, err := newManager("pref", big, pref).Send(ctx, testMessage())
		require.NoError(t, err)
		assert.Equal(t, "pref", name)
		assert.Zero(t, big.calls)
	})

	t.Run("disabled providers are skipped", func(t *testing.T) {
		off := &scriptedProvider{name: "off", priority: 10, enabled: false}
		on := &scriptedProvider{name: "on", priority: 1, enabled: true}

		_, name, err := newManager("", off, on).Send(ctx, testMessage())
		require.NoError(t, err)
		assert.Equal(t, "on", name)
		assert.Zero(t, off.calls)
	})

	t.Run("all providers failing yields ALL_PROVIDERS_FAILED", func(t *testing.T) {
		a := &scriptedProvider{name: "a", priority: 2, enabled: true, err: errors.New("down")}
		b := &scriptedProvider{name: "b", priority: 1, enabled: true, err: errors.New("down too")}

		_, _, err := newManager("", a, b).Send(ctx, testMessage())
		require.Error(t, err)
		var de *core_domain.DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, core_domain.ErrCodeAllProvidersFailed, de.Code)
		assert.Contains(t, de.Details, "a")
		assert.Contains(t, de.Details, "b")
	})

	t.Run("no enabled providers yields ALL_PROVIDERS_FAILED", func(t *testing.T) {
		off := &scriptedProvider{name: "off", priority: 1, enabled: false}

		_, _, err := newManager("", off).Send(ctx, testMessage())
		require.Error(t, err)
		var de *core_domain.DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, core_domain.ErrCodeAllProvidersFailed, de.Code)
	})
}
