// Package apierrors defines structured error types for the HTTP API.
package apierrors

import (
	"fmt"
	"net/http"
)

// Code is a machine-readable error identifier carried alongside the HTTP
// status code.
type Code string

const (
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeMissingField     Code = "MISSING_FIELD"
	CodeNotFound         Code = "NOT_FOUND"
	CodeBadPath          Code = "BAD_PATH"
	CodeConflict         Code = "CONFLICT"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// APIError is an error carrying an HTTP status, a machine code and optional
// structured details for the response body.
type APIError struct {
	statusCode int
	code       Code
	message    string
	details    map[string]any
	wrapped    error
}

// New creates an APIError with the given status, code and message.
func New(statusCode int, code Code, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// WithDetail attaches one key/value detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *APIError) Wrap(err error) *APIError {
	e.wrapped = err
	return e
}

func (e *APIError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

// Message returns the user-facing message without the wrapped cause.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the machine-readable error code.
func (e *APIError) Code() Code {
	return e.code
}

// Details returns additional error context, possibly nil.
func (e *APIError) Details() map[string]any {
	return e.details
}

func (e *APIError) Unwrap() error {
	return e.wrapped
}

// NotFound creates a 404 error for a named resource.
func NotFound(resource string) *APIError {
	return New(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a 400 validation error.
func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, CodeValidationFailed, message)
}

// MissingField creates a 400 error for a missing required field.
func MissingField(field string) *APIError {
	return New(http.StatusBadRequest, CodeMissingField, fmt.Sprintf("missing required field: %s", field))
}

// BadPath creates a 400 error for an invalid document path.
func BadPath(id string) *APIError {
	return New(http.StatusBadRequest, CodeBadPath, "invalid document path").WithDetail("id", id)
}

// Conflict creates a 409 error.
func Conflict(message string) *APIError {
	return New(http.StatusConflict, CodeConflict, message)
}

// Unauthorized creates a 401 error.
func Unauthorized() *APIError {
	return New(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
}

// RateLimited creates a 429 error.
func RateLimited() *APIError {
	return New(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
}

// Internal creates a 500 error wrapping an underlying cause.
func Internal(message string, err error) *APIError {
	return New(http.StatusInternalServerError, CodeInternal, message).Wrap(err)
}
