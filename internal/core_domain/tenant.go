package core_domain

import "time"

// TenantStatus gates whether a tenant may submit messages.
type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
)

// Tenant is a registered API consumer. Credential material is stored as a
// SHA3-256 digest of the opaque API key; lookups hash the presented key.
type Tenant struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	APIKeyDigest     string         `json:"-"`
	APISecret        string         `json:"-"`
	RateLimits       map[string]int `json:"rate_limits,omitempty"`
	AllowedChannels  []ChannelType  `json:"allowed_channels,omitempty"`
	CreditsRemaining *int           `json:"credits_remaining,omitempty"`
	Status           TenantStatus   `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// RateLimit returns the configured requests-per-hour for a limit name, or 0
// when none is configured.
func (t *Tenant) RateLimit(name string) int {
	if t.RateLimits == nil {
		return 0
	}
	return t.RateLimits[name]
}

// AllowsChannel reports whether the tenant may send on channel. An empty
// allowed set means every channel.
func (t *Tenant) AllowsChannel(channel ChannelType) bool {
	if len(t.AllowedChannels) == 0 {
		return true
	}
	for _, c := range t.AllowedChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// HasCredits reports whether the tenant may still consume a message credit.
// A nil balance means unlimited.
func (t *Tenant) HasCredits() bool {
	return t.CreditsRemaining == nil || *t.CreditsRemaining > 0
}
