package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mindshift/ums-gateway/internal/core_domain"
)

// errorBody is the uniform error envelope: {"error":{"code","message","details"}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[string]int{
	core_domain.ErrAuthentication.Code:      http.StatusUnauthorized,
	core_domain.ErrTenantNotFound.Code:      http.StatusUnauthorized,
	core_domain.ErrTenantSuspended.Code:     http.StatusForbidden,
	core_domain.ErrIdempotencyConflict.Code: http.StatusConflict,
	core_domain.ErrAlreadyProcessing.Code:   http.StatusConflict,
	core_domain.ErrValidation.Code:          http.StatusBadRequest,
	core_domain.ErrRateLimitExceeded.Code:   http.StatusTooManyRequests,
	core_domain.ErrTemplateNotFound.Code:    http.StatusNotFound,
	core_domain.ErrInvalidTemplate.Code:     http.StatusUnprocessableEntity,
	core_domain.ErrMissingVariables.Code:    http.StatusBadRequest,
	core_domain.ErrRecipientOptedOut.Code:   http.StatusUnprocessableEntity,
	core_domain.ErrQuietHours.Code:          http.StatusUnprocessableEntity,
	core_domain.ErrDailyCapExceeded.Code:    http.StatusUnprocessableEntity,
	core_domain.ErrChannelNotAllowed.Code:   http.StatusForbidden,
	core_domain.ErrInsufficientCredits.Code: http.StatusPaymentRequired,
	core_domain.ErrMessageNotFound.Code:     http.StatusNotFound,
	core_domain.ErrRecipientNotFound.Code:   http.StatusNotFound,
}

// writeDomainError maps a DomainError to its HTTP status and renders the
// error envelope. Unknown errors become an opaque 500; the cause is logged,
// never leaked.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var de *core_domain.DomainError
	if !errors.As(err, &de) {
		logger.Error("Unhandled error in HTTP handler", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    core_domain.ErrInternal.Code,
			Message: core_domain.ErrInternal.Message,
		}})
		return
	}

	status, ok := statusByCode[de.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusTooManyRequests {
		writeRateLimitHeaders(w, de)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    de.Code,
		Message: de.Message,
		Details: de.Details,
	}})
}

func writeRateLimitHeaders(w http.ResponseWriter, de *core_domain.DomainError) {
	if remaining, ok := de.Details["remaining"].(int); ok {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if reset, ok := de.Details["resetAt"].(int64); ok {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
