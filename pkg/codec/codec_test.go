package codec

import (
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TestJSONCodec tests the JSONCodec
func TestJSONCodec(t *testing.T) {
	type TestRequest struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	type TestResponse struct {
		Greeting string `json:"greeting"`
	}

	codec := NewJSONCodec[TestRequest, TestResponse]()

	data, err := codec.Decode([]byte(`{"name":"John","age":30}`))
	if err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}
	if data.Name != "John" {
		t.Errorf("Expected name to be %q, got %q", "John", data.Name)
	}
	if data.Age != 30 {
		t.Errorf("Expected age to be %d, got %d", 30, data.Age)
	}

	body, err := codec.Encode(TestResponse{Greeting: "Hello, John!"})
	if err != nil {
		t.Fatalf("Failed to encode response: %v", err)
	}
	if string(body) != `{"greeting":"Hello, John!"}` {
		t.Errorf("Expected body %q, got %q", `{"greeting":"Hello, John!"}`, string(body))
	}
	if codec.ContentType() != "application/json" {
		t.Errorf("Expected content type application/json, got %q", codec.ContentType())
	}
}

// TestJSONCodecErrors tests malformed input and unknown fields
func TestJSONCodecErrors(t *testing.T) {
	type TestRequest struct {
		Name string `json:"name"`
	}

	codec := NewJSONCodec[TestRequest, TestRequest]()
	if _, err := codec.Decode([]byte(`{"name":`)); err == nil {
		t.Error("Expected error for truncated JSON")
	}
	if _, err := codec.Decode(nil); err == nil {
		t.Error("Expected error for empty body")
	}

	codec.DisallowUnknownFields = true
	if _, err := codec.Decode([]byte(`{"name":"a","extra":1}`)); err == nil {
		t.Error("Expected error for unknown field")
	}
}

// TestProtoCodec tests a round trip through a well-known protobuf message
func TestProtoCodec(t *testing.T) {
	codec := NewProtoCodec[*wrapperspb.StringValue, *wrapperspb.StringValue]()

	body, err := codec.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatalf("Failed to encode message: %v", err)
	}

	msg, err := codec.Decode(body)
	if err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if msg.GetValue() != "hello" {
		t.Errorf("Expected value %q, got %q", "hello", msg.GetValue())
	}

	if _, err := codec.Decode([]byte{0xff, 0xff}); err == nil {
		t.Error("Expected error for invalid wire data")
	}
	if codec.ContentType() != "application/x-protobuf" {
		t.Errorf("Expected content type application/x-protobuf, got %q", codec.ContentType())
	}
}
