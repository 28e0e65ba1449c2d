package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is the machine-readable code carried in every error envelope.
// Its prefix decides the HTTP status.
type ErrorCode string

const (
	// Rejected request bodies (400).
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON    ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidCommand ErrorCode = "validation_invalid_command"
	ErrCodeValidationInvalidTime    ErrorCode = "validation_invalid_trigger_time"
	ErrCodeValidationUnknownPath    ErrorCode = "validation_unknown_path"

	// Intake token (401).
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Routing (404, 405).
	ErrCodeNotFoundRoute    ErrorCode = "not_found_route"
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	// Schedule source and process failures (500).
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalScheduleStore ErrorCode = "internal_schedule_store_error"

	// AWS dependencies: SQS intake (502).
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// statusByPrefix is checked in order; the first matching prefix wins.
var statusByPrefix = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"auth_", http.StatusUnauthorized},
	{"not_found_", http.StatusNotFound},
	{"method_not_allowed", http.StatusMethodNotAllowed},
	{"upstream_", http.StatusBadGateway},
}

// HTTPStatus maps c to a response status. Unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	for _, p := range statusByPrefix {
		if strings.HasPrefix(string(c), p.prefix) {
			return p.status
		}
	}
	return http.StatusInternalServerError
}

// AppError is an error that knows how to present itself to an API client.
// Err is the internal cause and is never serialized.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus is shorthand for e.Code.HTTPStatus().
func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// NewAppError builds an AppError without details. cause may be nil.
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewAppErrorWithDetails builds an AppError whose details are returned to the
// client alongside the message.
func NewAppErrorWithDetails(code ErrorCode, message string, cause error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: cause, Details: details}
}
