package api

import (
	"errors"
	"log/slog"
	"net/http"

	"ev-pipeline/internal/domain"
	"ev-pipeline/internal/middleware"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON. Internal errors are logged and their text
// is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := httpStatusFromDomainError(err)
	reqID := middleware.RequestIDFromContext(r.Context())
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "request_id", reqID, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Code: status, Message: msg, RequestID: reqID})
}
