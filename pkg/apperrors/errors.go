// Package apperrors defines the error taxonomy shared by all services.
// Handlers never inspect raw errors: services return one of these typed
// errors and pkg/response maps it to an HTTP status and machine-readable code.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes, mirrored in API responses.
const (
	CodeValidation     = "VALIDATION_FAILED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodePayment        = "PAYMENT_FAILED"
	CodeExternal       = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeInfrastructure = "INFRASTRUCTURE_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
)

// Error is a typed application error carrying its HTTP mapping.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As extracts a typed *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is a typed error with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Validation reports malformed input (HTTP 400).
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: message}
}

// NotFound reports an absent referenced resource (HTTP 404).
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: message}
}

// Conflict reports an invalid state transition or duplicate unique key
// surfaced as a business conflict (HTTP 409).
func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: message}
}

// Payment reports a provider decline or rejection (HTTP 402).
func Payment(message string) *Error {
	return &Error{Code: CodePayment, Status: http.StatusPaymentRequired, Message: message}
}

// External reports an unreachable upstream service (HTTP 503).
func External(message string, err error) *Error {
	return &Error{Code: CodeExternal, Status: http.StatusServiceUnavailable, Message: message, Err: err}
}

// Infrastructure reports storage or other internal failures (HTTP 500).
func Infrastructure(message string, err error) *Error {
	return &Error{Code: CodeInfrastructure, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// Unauthorized reports a missing or invalid principal (HTTP 401).
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

// Forbidden reports a principal lacking permission (HTTP 403).
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Status: http.StatusForbidden, Message: message}
}
