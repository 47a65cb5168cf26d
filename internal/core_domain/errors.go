package core_domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError is the gateway's error taxonomy: a stable machine-readable
// code, a human message and optional structured details. errors.Is matches
// on the code, so parameterized instances still compare equal to the
// package-level sentinels.
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying extra structured details.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: details}
}

// WithMessage returns a copy of the error with a more specific message.
func (e *DomainError) WithMessage(msg string) *DomainError {
	return &DomainError{Code: e.Code, Message: msg, Details: e.Details}
}

// Admission-stage errors: rejected synchronously, nothing persisted.
var (
	ErrAuthentication      = &DomainError{Code: "AUTH_FAILED", Message: "authentication failed"}
	ErrTenantNotFound      = &DomainError{Code: "TENANT_NOT_FOUND", Message: "tenant not found"}
	ErrTenantSuspended     = &DomainError{Code: "TENANT_SUSPENDED", Message: "tenant is suspended"}
	ErrIdempotencyConflict = &DomainError{Code: "IDEMPOTENCY_CONFLICT", Message: "idempotency key belongs to a different tenant"}
	ErrAlreadyProcessing   = &DomainError{Code: "ALREADY_PROCESSING", Message: "request with this idempotency key is currently being processed"}
	ErrValidation          = &DomainError{Code: "VALIDATION_ERROR", Message: "request validation failed"}
	ErrRateLimitExceeded   = &DomainError{Code: "RATE_LIMIT_EXCEEDED", Message: "rate limit exceeded"}
	ErrTemplateNotFound    = &DomainError{Code: "TEMPLATE_NOT_FOUND", Message: "template not found"}
	ErrInvalidTemplate     = &DomainError{Code: "INVALID_TEMPLATE", Message: "template is not usable"}
	ErrMissingVariables    = &DomainError{Code: "MISSING_VARIABLES", Message: "required template variables are missing"}
	ErrRecipientOptedOut   = &DomainError{Code: "RECIPIENT_OPTED_OUT", Message: "recipient has opted out"}
	ErrQuietHours          = &DomainError{Code: "QUIET_HOURS", Message: "recipient is in quiet hours"}
	ErrDailyCapExceeded    = &DomainError{Code: "DAILY_CAP_EXCEEDED", Message: "recipient daily message cap reached"}
	ErrChannelNotAllowed   = &DomainError{Code: "CHANNEL_NOT_ALLOWED", Message: "channel is not enabled for this tenant"}
	ErrInsufficientCredits = &DomainError{Code: "INSUFFICIENT_CREDITS", Message: "tenant has no remaining credits"}
	ErrMessageNotFound     = &DomainError{Code: "MESSAGE_NOT_FOUND", Message: "message not found"}
	ErrRecipientNotFound   = &DomainError{Code: "RECIPIENT_NOT_FOUND", Message: "no preferences recorded for recipient"}
	ErrInternal            = &DomainError{Code: "INTERNAL", Message: "internal error"}
)

// Delivery-stage error codes: recorded on the Message, never surfaced to the
// admission caller.
const (
	ErrCodeNoAdapter          = "NO_ADAPTER"
	ErrCodeAllProvidersFailed = "ALL_PROVIDERS_FAILED"
	ErrCodeProcessingError    = "PROCESSING_ERROR"
)

// NewValidationError builds a VALIDATION_ERROR carrying a field -> reason map.
func NewValidationError(fieldErrors map[string]string) *DomainError {
	details := make(map[string]any, len(fieldErrors))
	for field, reason := range fieldErrors {
		details[field] = reason
	}
	return ErrValidation.WithDetails(map[string]any{"validationErrors": details})
}

// NewMissingVariablesError builds a MISSING_VARIABLES error naming the
// absent template variables.
func NewMissingVariablesError(names []string) *DomainError {
	return &DomainError{
		Code:    ErrMissingVariables.Code,
		Message: "missing required template variables: " + strings.Join(names, ", "),
		Details: map[string]any{"missingVariables": names},
	}
}

// NewRateLimitError builds a RATE_LIMIT_EXCEEDED error carrying the
// client-visible limit metadata.
func NewRateLimitError(subject string, remaining int, resetUnix int64) *DomainError {
	return &DomainError{
		Code:    ErrRateLimitExceeded.Code,
		Message: "rate limit exceeded for " + subject,
		Details: map[string]any{"remaining": remaining, "resetAt": resetUnix},
	}
}
