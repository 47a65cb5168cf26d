package core_domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSent(t *testing.T) {
	msg := &Message{Status: StatusProcessing, Meta: map[string]any{"campaign": "summer"}}

	msg.MarkSent("prov-123", map[string]any{"deliveredVia": "sms-primary"})

	assert.Equal(t, StatusSent, msg.Status)
	require.NotNil(t, msg.ProviderMessageID)
	assert.Equal(t, "prov-123", *msg.ProviderMessageID)
	require.NotNil(t, msg.SentAt)
	assert.Equal(t, "summer", msg.Meta["campaign"])
	assert.Equal(t, "sms-primary", msg.Meta["deliveredVia"])
}

func TestMarkFailed(t *testing.T) {
	msg := &Message{Status: StatusProcessing}

	msg.MarkFailed("UNDELIVERABLE", "handset unreachable", map[string]any{"provider": "sms-primary"})

	assert.Equal(t, StatusFailed, msg.Status)
	require.NotNil(t, msg.ErrorCode)
	assert.Equal(t, "UNDELIVERABLE", *msg.ErrorCode)
	require.NotNil(t, msg.FailedAt)
}

func TestCanRetry(t *testing.T) {
	cases := []struct {
		name     string
		status   MessageStatus
		retries  int
		expected bool
	}{
		{"failed below ceiling", StatusFailed, 0, true},
		{"failed one below ceiling", StatusFailed, MaxRetries - 1, true},
		{"failed at ceiling", StatusFailed, MaxRetries, false},
		{"pending", StatusPending, 0, false},
		{"sent", StatusSent, 0, false},
		{"delivered", StatusDelivered, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &Message{Status: tc.status, Retries: tc.retries}
			assert.Equal(t, tc.expected, msg.CanRetry())
		})
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		name     string
		status   MessageStatus
		retries  int
		expected bool
	}{
		{"pending", StatusPending, 0, false},
		{"processing", StatusProcessing, 0, false},
		{"sent awaits confirmation", StatusSent, 0, false},
		{"delivered", StatusDelivered, 0, true},
		{"expired", StatusExpired, 0, true},
		{"cancelled", StatusCancelled, 0, true},
		{"failed with retries left", StatusFailed, 1, false},
		{"failed exhausted", StatusFailed, MaxRetries, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &Message{Status: tc.status, Retries: tc.retries}
			assert.Equal(t, tc.expected, msg.IsTerminal())
		})
	}
}

func TestIsExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	assert.False(t, (&Message{}).IsExpired())
	assert.True(t, (&Message{TTLExpiresAt: &past}).IsExpired())
	assert.False(t, (&Message{TTLExpiresAt: &future}).IsExpired())
}

func TestRecipientKey(t *testing.T) {
	assert.Equal(t, "+4915112345678", Recipient{Phone: "+4915112345678"}.Key())
	assert.Equal(t, "a@b.com", Recipient{Email: "a@b.com"}.Key())
	assert.Equal(t, "chat-77", Recipient{ChatUserID: "chat-77"}.Key())
	assert.Equal(t, "tok-1", Recipient{PushToken: "tok-1"}.Key())
	assert.Equal(t, "", Recipient{}.Key())
	// phone wins when several identifiers are present
	assert.Equal(t, "+49151", Recipient{Phone: "+49151", Email: "a@b.com"}.Key())
}

func TestChannelTypeIsValid(t *testing.T) {
	for _, ch := range KnownChannels {
		assert.True(t, ch.IsValid(), string(ch))
	}
	assert.False(t, ChannelType("FAX").IsValid())
}

func TestMessageStatusScan(t *testing.T) {
	var ms MessageStatus
	require.NoError(t, ms.Scan("DELIVERED"))
	assert.Equal(t, StatusDelivered, ms)

	require.NoError(t, ms.Scan([]byte("FAILED")))
	assert.Equal(t, StatusFailed, ms)

	assert.Error(t, ms.Scan("BOGUS"))
	assert.Error(t, ms.Scan(42))
}
