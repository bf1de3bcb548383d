// Package response writes JSON responses for plain net/http handlers and middleware.
// Error bodies share the {code, message} shape of the huma error handler.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	domainerrors "github.com/reelshelf/reelshelf-server/internal/errors"
	"github.com/reelshelf/reelshelf-server/internal/store"
)

// Body is the error payload.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes that have no domain counterpart.
const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// JSON writes v as JSON with the given status code.
func JSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// Error writes an error body.
func Error(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	JSON(w, status, Body{Code: code, Message: message}, logger)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusNotFound, string(domainerrors.CodeNotFound), message, logger)
}

// MethodNotAllowed writes a 405.
func MethodNotAllowed(w http.ResponseWriter, logger *slog.Logger) {
	Error(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", logger)
}

// TooManyRequests writes a 429.
func TooManyRequests(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusTooManyRequests, CodeRateLimited, message, logger)
}

// HandleError maps err to a response. Domain and store errors keep their status;
// anything else is logged and reported as a 500 without leaking the cause.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		JSON(w, domainErr.HTTPStatus(), Body{
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Details,
		}, logger)
		return
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		Error(w, storeErr.HTTPCode(), CodeForStatus(storeErr.HTTPCode()), storeErr.Message, logger)
		return
	}

	if logger != nil {
		logger.Error("unhandled error", "error", err)
	}
	Error(w, http.StatusInternalServerError, string(domainerrors.CodeInternal), "internal server error", logger)
}

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return string(domainerrors.CodeValidation)
	case http.StatusNotFound:
		return string(domainerrors.CodeNotFound)
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusConflict:
		return string(domainerrors.CodeConflict)
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return string(domainerrors.CodeUnavailable)
	default:
		return string(domainerrors.CodeInternal)
	}
}
