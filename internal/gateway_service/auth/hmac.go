package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// timestampTolerance is the allowed clock skew for signed requests.
const timestampTolerance = 300 * time.Second

// Signature computes the request signature for the strong auth mode:
// HMAC-SHA256 over "METHOD|PATH|BODY|TIMESTAMP", hex encoded.
func Signature(method, path, body string, timestamp int64, secret string) string {
	stringToSign := strings.ToUpper(method) + "|" + path + "|" + body + "|" + strconv.FormatInt(timestamp, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature against the expected one,
// rejecting timestamps outside the skew tolerance. The comparison is
// constant time.
func VerifySignature(method, path, body string, timestamp int64, presented, secret string) bool {
	now := time.Now().Unix()
	skew := now - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > timestampTolerance {
		return false
	}

	expected := Signature(method, path, body, timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(presented))
}

// ExtractAPIKey parses an Authorization header of the form "Bearer <key>",
// "ApiKey <key>" or a bare key. Returns "" when nothing usable is present.
func ExtractAPIKey(authorization string) string {
	trimmed := strings.TrimSpace(authorization)
	if trimmed == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(trimmed, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(trimmed, "ApiKey "); ok {
		return strings.TrimSpace(rest)
	}
	return trimmed
}
