package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// FieldError describes one invalid field of a request payload.
type FieldError struct {
	Field   string `json:"field"`   // Field name, dotted for nested fields ("address.city")
	Code    string `json:"code"`    // Failed rule ("required", "email", "min")
	Message string `json:"message"` // Human-readable message
}

// Error is a typed failure that maps to an HTTP error response.
// Handlers and layers return it to control the exact status and error type sent to clients.
// Internal carries the underlying cause for logs and is never written to the response.
type Error struct {
	Status   int          // HTTP status code (e.g., 400, 404, 500)
	Type     string       // Machine-readable error type (e.g., "not_found")
	Message  string       // Message sent to the client
	Fields   []FieldError // Per-field details, only for validation failures
	Internal error        // Cause, logged but not exposed
}

// Error implements the error interface in the format "status type: message".
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%d %s: %s: %v", e.Status, e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Type, e.Message)
}

// Unwrap returns the internal cause
func (e *Error) Unwrap() error {
	return e.Internal
}

// WithInternal returns a copy of e that records cause as its internal error.
func (e *Error) WithInternal(cause error) *Error {
	c := *e
	c.Internal = cause
	return &c
}

// NewError creates an Error with the given status, type and message.
func NewError(status int, errType, message string) *Error {
	return &Error{Status: status, Type: errType, Message: message}
}

// BadRequest creates a 400 bad_request error
func BadRequest(message string) *Error {
	return NewError(http.StatusBadRequest, "bad_request", message)
}

// Unauthorized creates a 401 unauthorized error
func Unauthorized(message string) *Error {
	return NewError(http.StatusUnauthorized, "unauthorized", message)
}

// Forbidden creates a 403 forbidden error
func Forbidden(message string) *Error {
	return NewError(http.StatusForbidden, "forbidden", message)
}

// NotFound creates a 404 not_found error
func NotFound(message string) *Error {
	return NewError(http.StatusNotFound, "not_found", message)
}

// MethodNotAllowed creates a 405 method_not_allowed error
func MethodNotAllowed(message string) *Error {
	return NewError(http.StatusMethodNotAllowed, "method_not_allowed", message)
}

// RequestTimeout creates a 408 request_timeout error
func RequestTimeout(message string) *Error {
	return NewError(http.StatusRequestTimeout, "request_timeout", message)
}

// Conflict creates a 409 conflict error
func Conflict(message string) *Error {
	return NewError(http.StatusConflict, "conflict", message)
}

// PayloadTooLarge creates a 413 payload_too_large error
func PayloadTooLarge(message string) *Error {
	return NewError(http.StatusRequestEntityTooLarge, "payload_too_large", message)
}

// Validation creates a 422 validation_error carrying the failing fields
func Validation(fields []FieldError) *Error {
	e := NewError(http.StatusUnprocessableEntity, "validation_error", "Request validation failed")
	e.Fields = fields
	return e
}

// TooManyRequests creates a 429 rate_limit_exceeded error
func TooManyRequests(message string) *Error {
	return NewError(http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

// Internal creates a 500 internal_error error
func Internal(message string) *Error {
	return NewError(http.StatusInternalServerError, "internal_error", message)
}

// ServiceUnavailable creates a 503 service_unavailable error
func ServiceUnavailable(message string) *Error {
	return NewError(http.StatusServiceUnavailable, "service_unavailable", message)
}

type errorBody struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// AsError converts any error into an *Error. Errors that are not already
// typed become a generic internal_error with the original kept as the cause.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal("Internal Server Error").WithInternal(err)
}

// ErrorResponse renders err as a JSON error response.
// The request id of r, when present, is copied into the body and the X-Request-Id header.
func ErrorResponse(r *Request, err error) *Response {
	apiErr := AsError(err)

	env := errorEnvelope{
		Error: errorBody{
			Type:    apiErr.Type,
			Message: apiErr.Message,
			Fields:  apiErr.Fields,
		},
	}
	if r != nil {
		env.RequestID = r.RequestID()
	}

	// errorEnvelope only holds strings, so Marshal cannot fail
	body, _ := json.Marshal(env)

	resp := NewResponse(apiErr.Status)
	resp.Header.Set("Content-Type", "application/json")
	if env.RequestID != "" {
		resp.Header.Set(RequestIDHeader, env.RequestID)
	}
	resp.Body = body
	if apiErr.Internal != nil || apiErr.Status >= http.StatusInternalServerError {
		resp.Err = apiErr
	}
	return resp
}

// Cause returns the error worth logging for e: the internal cause when set, e otherwise.
func (e *Error) Cause() error {
	if e.Internal != nil {
		return e.Internal
	}
	return e
}
