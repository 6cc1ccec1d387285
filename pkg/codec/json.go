// Package codec provides encoding and decoding functionality for different data formats.
package codec

import (
	"bytes"
	"encoding/json"
)

// Codec decodes request payloads into T and encodes values of U into response payloads.
// Implementations work on buffered bodies; the server has already read the request.
type Codec[T any, U any] interface {
	// Decode deserializes a request body into a value of type T.
	Decode(body []byte) (T, error)

	// Encode serializes a value of type U for a response body.
	Encode(v U) ([]byte, error)

	// ContentType is the media type written with encoded values.
	ContentType() string
}

// JSONCodec is a codec that uses JSON for marshaling and unmarshaling.
type JSONCodec[T any, U any] struct {
	// DisallowUnknownFields rejects request objects with fields T does not declare.
	DisallowUnknownFields bool
}

// Decode unmarshals body from JSON. An empty body is an error.
func (c *JSONCodec[T, U]) Decode(body []byte) (T, error) {
	var data T

	dec := json.NewDecoder(bytes.NewReader(body))
	if c.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&data); err != nil {
		return data, err
	}

	return data, nil
}

// Encode marshals v to JSON without a trailing newline.
func (c *JSONCodec[T, U]) Encode(v U) ([]byte, error) {
	return json.Marshal(v)
}

// ContentType returns application/json
func (c *JSONCodec[T, U]) ContentType() string {
	return "application/json"
}

// NewJSONCodec creates a new JSONCodec instance for the specified types.
// T represents the request type and U represents the response type.
func NewJSONCodec[T any, U any]() *JSONCodec[T, U] {
	return &JSONCodec[T, U]{}
}
