package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"accounts/internal/lib/sl"
	"accounts/internal/observability"
	"accounts/internal/services/auth"
)

type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, status int, data any, msg string) {
	writeJSON(w, status, envelope{StatusCode: status, Data: data, Message: msg, Success: true})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{StatusCode: status, Message: msg, Success: false})
}

// writeError maps err onto a status code and a client safe message. Only
// errors of unknown kind are logged at error level.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusOf(err)

	msg := http.StatusText(status)
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		msg = authErr.Error()
	}

	switch {
	case status == http.StatusServiceUnavailable:
		log.Warn("request timed out", sl.Err(err))
		msg = "service temporarily unavailable, try again"
	case status >= http.StatusInternalServerError:
		log.Error("request failed", sl.Err(err))
	default:
		log.Debug("request rejected", slog.Int("status", status), sl.Err(err))
	}

	fail(w, status, msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, auth.ErrValidation):
		return observability.OutcomeInvalid
	case errors.Is(err, auth.ErrConflict):
		return observability.OutcomeConflict
	case errors.Is(err, auth.ErrNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, auth.ErrAuth):
		return observability.OutcomeRejected
	case errors.Is(err, auth.ErrRateLimited):
		return observability.OutcomeRateLimited
	default:
		return observability.OutcomeError
	}
}
