// Package codec provides encoding and decoding functionality for different data formats.
package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec is a codec that uses Protocol Buffers for marshaling and unmarshaling.
// T and U are generated message pointer types such as *pb.User.
type ProtoCodec[T proto.Message, U proto.Message] struct{}

// Decode unmarshals body into a freshly allocated T.
func (c *ProtoCodec[T, U]) Decode(body []byte) (T, error) {
	var zero T

	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Pointer {
		return zero, fmt.Errorf("proto codec: %s is not a pointer type", typ)
	}
	msg, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("proto codec: cannot allocate %s", typ)
	}

	if err := proto.Unmarshal(body, msg); err != nil {
		return zero, err
	}
	return msg, nil
}

// Encode marshals v in the protobuf wire format.
func (c *ProtoCodec[T, U]) Encode(v U) ([]byte, error) {
	return proto.Marshal(v)
}

// ContentType returns application/x-protobuf
func (c *ProtoCodec[T, U]) ContentType() string {
	return "application/x-protobuf"
}

// NewProtoCodec creates a new ProtoCodec instance for the specified types.
// T represents the request type and U represents the response type.
func NewProtoCodec[T proto.Message, U proto.Message]() *ProtoCodec[T, U] {
	return &ProtoCodec[T, U]{}
}
