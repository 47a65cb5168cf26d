package core_domain

import "time"

// TemplateStatus gates whether a template may be referenced by new messages.
type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "ACTIVE"
	TemplateInactive TemplateStatus = "INACTIVE"
)

// TemplateButton is a channel-specific rendering hint for chat business
// messages (link buttons attached below the message body).
type TemplateButton struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Template is a named, channel- and locale-scoped message template.
// (code, channel, locale) is unique per tenant. Templates are immutable once
// referenced by a sent message; edits bump the version.
type Template struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	Code          string           `json:"code"`
	Channel       ChannelType      `json:"channel"`
	Locale        string           `json:"locale"`
	TitleTemplate string           `json:"title_template,omitempty"`
	BodyTemplate  string           `json:"body_template"`
	Buttons       []TemplateButton `json:"buttons,omitempty"`
	Status        TemplateStatus   `json:"status"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// IsActive reports whether the template may be used for new messages.
func (t *Template) IsActive() bool {
	return t.Status == TemplateActive
}
