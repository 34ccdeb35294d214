// Package errors provides structured error responses for the delivery server.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// Error codes for structured API responses.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeTooLarge        = "TOO_LARGE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIError is the body of every error response.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetails returns a copy of the error with details attached.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	c := *e
	c.Details = details
	return &c
}

// WithRequestID returns a copy of the error with the request ID set.
func (e *APIError) WithRequestID(requestID string) *APIError {
	c := *e
	c.RequestID = requestID
	return &c
}

// New creates an APIError.
func New(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func NewValidationError(message string) *APIError   { return New(CodeValidationError, message) }
func NewNotFoundError(message string) *APIError     { return New(CodeNotFound, message) }
func NewUnauthorizedError(message string) *APIError { return New(CodeUnauthorized, message) }
func NewForbiddenError(message string) *APIError    { return New(CodeForbidden, message) }
func NewConflictError(message string) *APIError     { return New(CodeConflict, message) }
func NewTooLargeError(message string) *APIError     { return New(CodeTooLarge, message) }
func NewInternalError(message string) *APIError     { return New(CodeInternalError, message) }

// HTTPStatusCode maps the error code to an HTTP status.
func (e *APIError) HTTPStatusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes err with its mapped status.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.HTTPStatusCode(), err)
}

// ErrorLogEntry is the structured log record for an unexpected failure.
type ErrorLogEntry struct {
	CorrelationID string
	ErrorCode     string
	Message       string
	StackTrace    string
}

// NewErrorLogEntry captures the current stack.
func NewErrorLogEntry(correlationID, errorCode, message string) *ErrorLogEntry {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &ErrorLogEntry{
		CorrelationID: correlationID,
		ErrorCode:     errorCode,
		Message:       message,
		StackTrace:    string(buf[:n]),
	}
}
