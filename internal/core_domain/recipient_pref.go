package core_domain

import "time"

// RecipientPref holds per-recipient delivery preferences for one tenant.
// Rows are created lazily on first send or first explicit opt-out.
type RecipientPref struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"`
	RecipientKey    string               `json:"recipient_key"`
	ChannelAllow    map[ChannelType]bool `json:"channel_allow,omitempty"`
	QuietHoursStart *string              `json:"quiet_hours_start,omitempty"` // "HH:MM"
	QuietHoursEnd   *string              `json:"quiet_hours_end,omitempty"`   // "HH:MM"
	OptedOut        bool                 `json:"opted_out"`
	OptOutReason    *string              `json:"opt_out_reason,omitempty"`
	OptedOutAt      *time.Time           `json:"opted_out_at,omitempty"`
	MaxDailyMsgs    *int                 `json:"max_daily_messages,omitempty"`
	LastMessageAt   *time.Time           `json:"last_message_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ChannelAllowed reports whether channel is permitted by the per-channel
// allow map. A missing map or missing entry defaults to allowed.
func (p *RecipientPref) ChannelAllowed(channel ChannelType) bool {
	if p.ChannelAllow == nil {
		return true
	}
	allowed, ok := p.ChannelAllow[channel]
	return !ok || allowed
}
