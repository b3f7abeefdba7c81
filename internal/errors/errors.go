// Package errors defines the service error taxonomy shared by the core and
// the caller boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error kind.
type ErrorCode string

const (
	CodeConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	CodeInvalidQuery   ErrorCode = "INVALID_QUERY"
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeDuplicate      ErrorCode = "DUPLICATE"
	CodeConflict       ErrorCode = "CONFLICT"
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type surfaced to callers.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError with the same code, so sentinel comparisons
// like errors.Is(err, &ServiceError{Code: CodeDuplicate}) work.
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Configuration reports bad setup; fatal at startup.
func Configuration(message string) *ServiceError {
	return newError(CodeConfiguration, http.StatusInternalServerError, message, nil)
}

// Configurationf formats a configuration error.
func Configurationf(format string, args ...any) *ServiceError {
	return Configuration(fmt.Sprintf(format, args...))
}

// InvalidQuery reports malformed paging or ordering.
func InvalidQuery(message string) *ServiceError {
	return newError(CodeInvalidQuery, http.StatusBadRequest, message, nil)
}

// Validation reports a missing or malformed field.
func Validation(field, message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil).WithDetails("field", field)
}

// Duplicate reports a uniqueness violation on field.
func Duplicate(field string, value any) *ServiceError {
	return newError(CodeDuplicate, http.StatusConflict, fmt.Sprintf("%s already exists", field), nil).
		WithDetails("field", field).
		WithDetails("value", value)
}

// Conflict reports that other data prevents the operation.
func Conflict(message, referencedBy string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil).WithDetails("referenced_by", referencedBy)
}

// NotImplemented reports a descriptor that cannot be executed.
func NotImplemented(method string) *ServiceError {
	return newError(CodeNotImplemented, http.StatusNotImplemented, fmt.Sprintf("method %s is not implemented", method), nil).
		WithDetails("method", method)
}

// Unauthorized reports missing or insufficient caller evidence.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports an authenticated caller without enough trust.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Access denied"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// InvalidToken reports a token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil).
		WithDetails("resource", resource)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimit, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// IsAuthorization reports whether err is a rejection by access control.
func IsAuthorization(err error) bool {
	return HasCode(err, CodeUnauthorized) || HasCode(err, CodeForbidden)
}
