package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefillTokens(t *testing.T) {
	t.Run("no elapsed time adds nothing", func(t *testing.T) {
		assert.Equal(t, int64(5), refillTokens(5, 1000, 1000, 10))
	})

	t.Run("partial interval refills proportionally", func(t *testing.T) {
		// Half an hour at capacity 10 restores 5 tokens.
		assert.Equal(t, int64(7), refillTokens(2, 0, 1800, 10))
	})

	t.Run("refill is capped at capacity", func(t *testing.T) {
		assert.Equal(t, int64(10), refillTokens(9, 0, 7200, 10))
	})

	t.Run("sub-threshold elapsed time floors to zero", func(t *testing.T) {
		// 100 seconds at capacity 10/hour is under one token.
		assert.Equal(t, int64(0), refillTokens(0, 0, 100, 10))
	})

	t.Run("clock going backwards adds nothing", func(t *testing.T) {
		assert.Equal(t, int64(3), refillTokens(3, 2000, 1000, 10))
	})
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, "rate_limit:tenant-1:messages", bucketKey("tenant-1", LimitTypeTenant))
	assert.Equal(t, "rate_limit:+15551234567:recipient_messages", bucketKey("+15551234567", LimitTypeRecipient))
}
