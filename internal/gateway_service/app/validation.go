package app

import (
	"regexp"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// validateCommand checks the request shape before any stateful admission
// step runs. All field problems are collected into one VALIDATION_ERROR.
func validateCommand(cmd *AcceptMessageCommand) error {
	problems := map[string]string{}

	if !cmd.Channel.IsValid() {
		problems["channel"] = "must be one of SMS, EMAIL, CHAT_BUSINESS_MESSAGE, PUSH"
	}
	if cmd.TemplateCode == "" {
		problems["templateCode"] = "is required"
	}

	if cmd.Channel.IsValid() {
		validateRecipient(cmd.Channel, cmd.To, problems)
	}

	switch cmd.Routing.Priority {
	case "", core_domain.PriorityHigh, core_domain.PriorityNormal, core_domain.PriorityLow:
	default:
		problems["routing.priority"] = "must be one of HIGH, NORMAL, LOW"
	}
	if cmd.Routing.TTLSeconds < 0 {
		problems["routing.ttlSeconds"] = "must not be negative"
	}
	for _, fallback := range cmd.Routing.Fallback {
		if !fallback.IsValid() {
			problems["routing.fallback"] = "contains an unknown channel"
		}
	}

	for _, att := range cmd.Attachments {
		if att.URL == "" || att.Type == "" {
			problems["attachments"] = "each attachment needs a type and a url"
			break
		}
	}

	if len(problems) > 0 {
		return core_domain.NewValidationError(problems)
	}
	return nil
}

// validateRecipient enforces the channel-shaped recipient: exactly the field
// the channel delivers to must be present and well-formed.
func validateRecipient(channel core_domain.ChannelType, to core_domain.Recipient, problems map[string]string) {
	switch channel {
	case core_domain.ChannelSMS:
		if to.Phone == "" {
			problems["to.phone"] = "is required for SMS"
		} else if !phonePattern.MatchString(to.Phone) {
			problems["to.phone"] = "is not a valid E.164 phone number"
		}
	case core_domain.ChannelEmail:
		if to.Email == "" {
			problems["to.email"] = "is required for EMAIL"
		} else if !emailPattern.MatchString(to.Email) {
			problems["to.email"] = "is not a valid email address"
		}
	case core_domain.ChannelChat:
		if to.ChatUserID == "" {
			problems["to.chatUserId"] = "is required for CHAT_BUSINESS_MESSAGE"
		}
	case core_domain.ChannelPush:
		if to.PushToken == "" {
			problems["to.pushToken"] = "is required for PUSH"
		}
	}
}
