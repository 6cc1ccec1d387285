package common

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// Responder is implemented by handler results that know how to render themselves.
type Responder interface {
	Response() *Response
}

// JSON marshals v and returns it with the given status.
// A value that cannot be marshaled yields a 500 internal_error response.
func JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return ErrorResponse(nil, Internal("Failed to encode response").WithInternal(err))
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = body
	return resp
}

// Text returns a text/plain response
func Text(status int, s string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(s)
	return resp
}

// Bytes returns an application/octet-stream response
func Bytes(status int, b []byte) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = b
	return resp
}

// NoContent returns an empty 204 response
func NoContent() *Response {
	return NewResponse(http.StatusNoContent)
}
