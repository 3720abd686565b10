package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"docstore/internal/domain"
	"docstore/internal/httputil"
)

// errorStatus maps domain errors to a status code and the CouchDB error
// name peers expect.
func errorStatus(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrExhaustedRetries):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, domain.ErrAttachment):
		return http.StatusInternalServerError, "attachment_failure"
	}
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode(), "error"
	}
	return http.StatusInternalServerError, "internal_server_error"
}

// handleError converts domain errors to HTTP responses. Server side
// failures are logged with the request; client errors are not.
func handleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, name := errorStatus(err)
	reason := err.Error()

	if status >= http.StatusInternalServerError {
		level := slog.LevelError
		if status == http.StatusServiceUnavailable {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if !errors.Is(err, domain.ErrExhaustedRetries) {
			reason = "internal server error"
		}
	}

	httputil.RespondCouchError(w, status, name, reason)
}
