package extract

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/Suhaibinator/SDispatch/pkg/codec"
	"github.com/Suhaibinator/SDispatch/pkg/common"
	"google.golang.org/protobuf/proto"
)

// takeBody takes the request body, mapping a second take to a 500 body_consumed error.
func takeBody(r *common.Request) ([]byte, error) {
	b, err := r.TakeBody()
	if errors.Is(err, common.ErrBodyConsumed) {
		return nil, common.NewError(http.StatusInternalServerError, "body_consumed", "Request body already consumed").WithInternal(err)
	}
	return b, err
}

// requireContentType rejects requests whose Content-Type is set to something other than want.
// A missing Content-Type is accepted.
func requireContentType(r *common.Request, want ...string) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return common.NewError(http.StatusUnsupportedMediaType, "unsupported_media_type", fmt.Sprintf("Invalid Content-Type %q", ct))
	}
	for _, w := range want {
		if mediaType == w || (w == "application/json" && strings.HasSuffix(mediaType, "+json")) {
			return nil
		}
	}
	return common.NewError(http.StatusUnsupportedMediaType, "unsupported_media_type",
		fmt.Sprintf("Expected Content-Type %s, got %s", strings.Join(want, " or "), mediaType))
}

// JSON decodes the body as JSON into T.
func JSON[T any]() Extractor[T] {
	c := codec.NewJSONCodec[T, T]()
	return body("json", func(r *common.Request) (T, error) {
		var zero T
		if err := requireContentType(r, "application/json"); err != nil {
			return zero, err
		}
		b, err := takeBody(r)
		if err != nil {
			return zero, err
		}
		v, err := c.Decode(b)
		if err != nil {
			return zero, common.BadRequest(fmt.Sprintf("Invalid JSON: %v", err)).WithInternal(err)
		}
		return v, nil
	})
}

// ValidatedJSON decodes the body as JSON and validates T with `validate` struct tags.
// Validation failures become 422 validation_error responses listing each field.
func ValidatedJSON[T any]() Extractor[T] {
	inner := JSON[T]()
	return body("json", func(r *common.Request) (T, error) {
		v, err := inner.Extract(r)
		if err != nil {
			return v, err
		}
		if err := Validate(v); err != nil {
			return v, err
		}
		return v, nil
	})
}

// Proto decodes the body as a protobuf message. T is a generated message pointer type.
func Proto[T proto.Message]() Extractor[T] {
	c := codec.NewProtoCodec[T, T]()
	return body("protobuf", func(r *common.Request) (T, error) {
		var zero T
		if err := requireContentType(r, "application/x-protobuf", "application/protobuf"); err != nil {
			return zero, err
		}
		b, err := takeBody(r)
		if err != nil {
			return zero, err
		}
		v, err := c.Decode(b)
		if err != nil {
			return zero, common.BadRequest(fmt.Sprintf("Invalid protobuf payload: %v", err)).WithInternal(err)
		}
		return v, nil
	})
}

// Form decodes an application/x-www-form-urlencoded body into a struct T using `form` tags.
func Form[T any]() Extractor[T] {
	return body("form", func(r *common.Request) (T, error) {
		var out T
		if err := requireContentType(r, "application/x-www-form-urlencoded"); err != nil {
			return out, err
		}
		b, err := takeBody(r)
		if err != nil {
			return out, err
		}
		values, err := url.ParseQuery(string(b))
		if err != nil {
			return out, common.BadRequest(fmt.Sprintf("Invalid form body: %v", err)).WithInternal(err)
		}
		err = bindStruct(reflect.ValueOf(&out).Elem(), "form", func(name string) ([]string, bool) {
			v, ok := values[name]
			return v, ok
		})
		if err != nil {
			return out, common.BadRequest(fmt.Sprintf("Invalid form field %v", err)).WithInternal(err)
		}
		return out, nil
	})
}

// Bytes takes the raw body.
func Bytes() Extractor[[]byte] {
	return body("raw", takeBody)
}

// Text takes the body as a UTF-8 string.
func Text() Extractor[string] {
	return body("text", func(r *common.Request) (string, error) {
		b, err := takeBody(r)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(b) {
			return "", common.BadRequest("Request body is not valid UTF-8")
		}
		return string(b), nil
	})
}
