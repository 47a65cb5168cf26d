package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignatureIsDeterministic(t *testing.T) {
	ts := time.Now().Unix()
	a := Signature("POST", "/v1/messages", `{"channel":"SMS"}`, ts, "secret-1")
	b := Signature("POST", "/v1/messages", `{"channel":"SMS"}`, ts, "secret-1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestSignatureUppercasesMethod(t *testing.T) {
	ts := time.Now().Unix()
	assert.Equal(t,
		Signature("post", "/v1/messages", "", ts, "s"),
		Signature("POST", "/v1/messages", "", ts, "s"))
}

func TestVerifySignature(t *testing.T) {
	now := time.Now().Unix()
	secret := "tenant-secret"
	sig := Signature("POST", "/v1/messages", "body", now, secret)

	t.Run("valid signature passes", func(t *testing.T) {
		assert.True(t, VerifySignature("POST", "/v1/messages", "body", now, sig, secret))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		assert.False(t, VerifySignature("POST", "/v1/messages", "body", now, sig, "other"))
	})

	t.Run("tampered body fails", func(t *testing.T) {
		assert.False(t, VerifySignature("POST", "/v1/messages", "body2", now, sig, secret))
	})

	t.Run("stale timestamp fails", func(t *testing.T) {
		old := now - 600
		oldSig := Signature("POST", "/v1/messages", "body", old, secret)
		assert.False(t, VerifySignature("POST", "/v1/messages", "body", old, oldSig, secret))
	})

	t.Run("future timestamp beyond tolerance fails", func(t *testing.T) {
		future := now + 600
		futureSig := Signature("POST", "/v1/messages", "body", future, secret)
		assert.False(t, VerifySignature("POST", "/v1/messages", "body", future, futureSig, secret))
	})

	t.Run("small skew within tolerance passes", func(t *testing.T) {
		recent := now - 60
		recentSig := Signature("POST", "/v1/messages", "body", recent, secret)
		assert.True(t, VerifySignature("POST", "/v1/messages", "body", recent, recentSig, secret))
	})
}

func TestExtractAPIKey(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		expected string
	}{
		{"bearer", "Bearer ums_live_abc123", "ums_live_abc123"},
		{"apikey scheme", "ApiKey ums_live_abc123", "ums_live_abc123"},
		{"bare key", "ums_live_abc123", "ums_live_abc123"},
		{"surrounding whitespace", "  Bearer ums_live_abc123  ", "ums_live_abc123"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractAPIKey(tc.header))
		})
	}
}

func TestKeyDigest(t *testing.T) {
	d := KeyDigest("ums_live_abc123")
	assert.Len(t, d, 64)
	assert.Equal(t, d, KeyDigest("ums_live_abc123"))
	assert.NotEqual(t, d, KeyDigest("ums_live_abc124"))
}
