package extract

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"reflect"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

func invalidPath(format string, args ...any) *common.Error {
	return common.NewError(http.StatusBadRequest, "invalid_path_param", fmt.Sprintf(format, args...))
}

func invalidQuery(format string, args ...any) *common.Error {
	return common.NewError(http.StatusBadRequest, "invalid_query", fmt.Sprintf(format, args...))
}

// Path extracts the path parameters.
// A struct T is filled field by field using `path` tags; any other T is parsed from
// the single parameter of the route.
func Path[T any]() Extractor[T] {
	if isStruct[T]() {
		return parts("path", "*", func(r *common.Request) (T, error) {
			var out T
			params := r.Params()
			err := bindStruct(reflect.ValueOf(&out).Elem(), "path", func(name string) ([]string, bool) {
				v, ok := params.Get(name)
				return []string{v}, ok
			})
			if err != nil {
				return out, invalidPath("Invalid path parameter %v", err)
			}
			return out, nil
		})
	}
	return parts("path", "*", func(r *common.Request) (T, error) {
		var zero T
		params := r.Params()
		if params.Len() != 1 {
			return zero, common.Internal("Path extractor expects exactly one parameter").
				WithInternal(fmt.Errorf("route %s has %d parameters", r.Pattern(), params.Len()))
		}
		for name, value := range params.All() {
			v, err := parseScalar[T](value)
			if err != nil {
				return zero, invalidPath("Invalid path parameter %s: %v", name, err)
			}
			return v, nil
		}
		return zero, nil
	})
}

// PathParam extracts one named path parameter as T.
func PathParam[T any](name string) Extractor[T] {
	return parts("path", name, func(r *common.Request) (T, error) {
		var zero T
		raw, ok := r.Params().Get(name)
		if !ok {
			return zero, common.Internal("Unknown path parameter").
				WithInternal(fmt.Errorf("route %s has no parameter %q", r.Pattern(), name))
		}
		v, err := parseScalar[T](raw)
		if err != nil {
			return zero, invalidPath("Invalid path parameter %s: %v", name, err)
		}
		return v, nil
	})
}

// Query binds the query string into a struct T using `query` tags.
// Slice fields collect repeated keys.
func Query[T any]() Extractor[T] {
	return parts("query", "*", func(r *common.Request) (T, error) {
		var out T
		q := r.Query()
		err := bindStruct(reflect.ValueOf(&out).Elem(), "query", func(name string) ([]string, bool) {
			v, ok := q[name]
			return v, ok
		})
		if err != nil {
			return out, invalidQuery("Invalid query parameter %v", err)
		}
		return out, nil
	})
}

// QueryParam extracts one required query parameter as T.
func QueryParam[T any](name string) Extractor[T] {
	return parts("query", name, func(r *common.Request) (T, error) {
		var zero T
		q := r.Query()
		if !q.Has(name) {
			return zero, invalidQuery("Missing query parameter %s", name)
		}
		v, err := parseScalar[T](q.Get(name))
		if err != nil {
			return zero, invalidQuery("Invalid query parameter %s: %v", name, err)
		}
		return v, nil
	})
}

// Header extracts a required header value.
func Header(name string) Extractor[string] {
	canonical := http.CanonicalHeaderKey(name)
	return parts("header", canonical, func(r *common.Request) (string, error) {
		v := r.Header.Get(canonical)
		if v == "" {
			return "", common.NewError(http.StatusBadRequest, "missing_header", fmt.Sprintf("Missing required header %s", canonical))
		}
		return v, nil
	})
}

// Headers extracts a copy of all request headers.
func Headers() Extractor[http.Header] {
	return &funcExtractor[http.Header]{kind: Parts, fn: func(r *common.Request) (http.Header, error) {
		return r.Header.Clone(), nil
	}}
}

// Method extracts the request method.
func Method() Extractor[string] {
	return New(func(r *common.Request) (string, error) {
		return r.Method, nil
	})
}

// URI extracts the request URL.
func URI() Extractor[*url.URL] {
	return New(func(r *common.Request) (*url.URL, error) {
		u := *r.URL
		return &u, nil
	})
}

// RequestID extracts the correlation id set by the request id layer.
func RequestID() Extractor[string] {
	return New(func(r *common.Request) (string, error) {
		return r.RequestID(), nil
	})
}

// Request gives the handler the request itself, for cases the other extractors do not cover.
// It does not take the body.
func Request() Extractor[*common.Request] {
	return New(func(r *common.Request) (*common.Request, error) {
		return r, nil
	})
}

// ClientIP extracts the client address resolved by the client ip layer,
// falling back to the host part of the remote address.
func ClientIP() Extractor[string] {
	return New(func(r *common.Request) (string, error) {
		if ip, ok := common.GetExtension[common.ClientIP](r); ok {
			return string(ip), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr, nil
		}
		return host, nil
	})
}

// State extracts a shared value of type T attached with Router.State.
// A missing type fails Router.Build, so the runtime error below is not expected in practice.
func State[T any]() Extractor[T] {
	t := reflect.TypeFor[T]()
	return &funcExtractor[T]{
		kind:  Parts,
		needs: []reflect.Type{t},
		info:  []common.ParamInfo{{In: "state", Name: t.String(), Type: t.String()}},
		fn: func(r *common.Request) (T, error) {
			v, ok := common.StateValue[T](r.State())
			if !ok {
				return v, common.NewError(http.StatusInternalServerError, "missing_state",
					"Application state is not configured")
			}
			return v, nil
		},
	}
}

// Extension extracts a per-request value stored by a layer.
func Extension[T any]() Extractor[T] {
	return New(func(r *common.Request) (T, error) {
		v, ok := common.GetExtension[T](r)
		if !ok {
			return v, common.NewError(http.StatusInternalServerError, "missing_extension",
				fmt.Sprintf("Request extension %s is not set", reflect.TypeFor[T]()))
		}
		return v, nil
	})
}

// Optional wraps e so that any failure yields nil instead of an error response.
// The wrapped extractor keeps its kind. Optional state is not checked at build time.
func Optional[T any](e Extractor[T]) Extractor[*T] {
	out := &funcExtractor[*T]{
		kind: e.Kind(),
		fn: func(r *common.Request) (*T, error) {
			v, err := e.Extract(r)
			if err != nil {
				return nil, nil
			}
			return &v, nil
		},
	}
	if d, ok := e.(describer); ok {
		out.info = d.Describe()
	}
	return out
}
