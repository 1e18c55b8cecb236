// Package core provides shared utilities for the geogate upstream clients.
package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorCode labels a gateway failure class for logs and internal handling.
type ErrorCode string

const (
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrInvalidBBox      ErrorCode = "INVALID_BBOX"
	ErrMissingParameter ErrorCode = "MISSING_PARAMETER"
	ErrInvalidParameter ErrorCode = "INVALID_PARAMETER"

	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"

	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error pairs a code with a human-readable message. Guidance, when set,
// tells the caller what to change.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Guidance string `json:"guidance,omitempty"`
}

func (e Error) Error() string {
	if e.Guidance == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
}

// NewError builds an Error from a code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: string(code), Message: message}
}

// WithGuidance attaches remediation advice and returns e for chaining.
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// WriteJSONError writes a bare error message as a JSON body, matching the
// {"error": "..."} shape the web client expects. Guidance and codes stay
// out of the body; the payload the client renders is just the message.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Default().Error("failed to encode error response", "error", err)
	}
}
