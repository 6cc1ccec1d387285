package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.uber.org/multierr"
)

// ErrMultipleBodies is reported when a handler declares more than one body extractor.
var ErrMultipleBodies = errors.New("handler declares more than one body extractor")

// endpoint is a handler function bound to its extractors.
// It implements common.Endpoint, common.Checker and common.Describer.
type endpoint struct {
	order []int // extractor indices, parts first then body
	needs []reflect.Type
	info  []common.ParamInfo
	err   error
	run   func(*common.Request) *common.Response
}

func newEndpoint(fn any, extractors ...kinded) *endpoint {
	e := &endpoint{}
	if isNil(fn) {
		e.err = errors.New("nil handler function")
	}

	bodyIndex := -1
	for i, x := range extractors {
		if isNil(x) {
			e.err = multierr.Append(e.err, fmt.Errorf("extractor %d is nil", i))
			continue
		}
		if sr, ok := x.(stateRequirer); ok {
			e.needs = append(e.needs, sr.RequiredState()...)
		}
		if d, ok := x.(describer); ok {
			e.info = append(e.info, d.Describe()...)
		}
		if x.Kind() == Body {
			if bodyIndex >= 0 {
				e.err = multierr.Append(e.err, ErrMultipleBodies)
				continue
			}
			bodyIndex = i
			continue
		}
		e.order = append(e.order, i)
	}
	if bodyIndex >= 0 {
		e.order = append(e.order, bodyIndex)
	}
	return e
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// extract runs the steps in planned order and stops at the first failure.
func (e *endpoint) extract(r *common.Request, steps ...func(*common.Request) error) error {
	for _, i := range e.order {
		if err := steps[i](r); err != nil {
			return err
		}
	}
	return nil
}

func (e *endpoint) Handle(r *common.Request) *common.Response {
	if e.err != nil {
		return common.ErrorResponse(r, common.Internal("Handler misconfigured").WithInternal(e.err))
	}
	return e.run(r)
}

// Check verifies the extractor plan and that every required state type is attached.
func (e *endpoint) Check(s *common.State) error {
	err := e.err
	for _, t := range e.needs {
		if !s.Has(t) {
			err = multierr.Append(err, fmt.Errorf("state of type %s is not attached", t))
		}
	}
	return err
}

func (e *endpoint) Describe() []common.ParamInfo {
	return e.info
}

// Handler0 binds a handler that takes no extracted arguments.
func Handler0[R any](fn func(ctx context.Context) (R, error)) common.Endpoint {
	e := newEndpoint(fn)
	e.run = func(r *common.Request) *common.Response {
		res, err := fn(r.Context())
		return respond(r, res, err)
	}
	return e
}

// Handler1 binds a handler with one extracted argument.
func Handler1[A, R any](a Extractor[A], fn func(ctx context.Context, a A) (R, error)) common.Endpoint {
	e := newEndpoint(fn, a)
	e.run = func(r *common.Request) *common.Response {
		var av A
		err := e.extract(r,
			func(r *common.Request) (err error) { av, err = a.Extract(r); return },
		)
		if err != nil {
			return common.ErrorResponse(r, err)
		}
		res, err := fn(r.Context(), av)
		return respond(r, res, err)
	}
	return e
}

// Handler2 binds a handler with two extracted arguments.
func Handler2[A, B, R any](a Extractor[A], b Extractor[B], fn func(ctx context.Context, a A, b B) (R, error)) common.Endpoint {
	e := newEndpoint(fn, a, b)
	e.run = func(r *common.Request) *common.Response {
		var av A
		var bv B
		err := e.extract(r,
			func(r *common.Request) (err error) { av, err = a.Extract(r); return },
			func(r *common.Request) (err error) { bv, err = b.Extract(r); return },
		)
		if err != nil {
			return common.ErrorResponse(r, err)
		}
		res, err := fn(r.Context(), av, bv)
		return respond(r, res, err)
	}
	return e
}

// Handler3 binds a handler with three extracted arguments.
func Handler3[A, B, C, R any](a Extractor[A], b Extractor[B], c Extractor[C], fn func(ctx context.Context, a A, b B, c C) (R, error)) common.Endpoint {
	e := newEndpoint(fn, a, b, c)
	e.run = func(r *common.Request) *common.Response {
		var av A
		var bv B
		var cv C
		err := e.extract(r,
			func(r *common.Request) (err error) { av, err = a.Extract(r); return },
			func(r *common.Request) (err error) { bv, err = b.Extract(r); return },
			func(r *common.Request) (err error) { cv, err = c.Extract(r); return },
		)
		if err != nil {
			return common.ErrorResponse(r, err)
		}
		res, err := fn(r.Context(), av, bv, cv)
		return respond(r, res, err)
	}
	return e
}

// Handler4 binds a handler with four extracted arguments.
func Handler4[A, B, C, D, R any](a Extractor[A], b Extractor[B], c Extractor[C], d Extractor[D], fn func(ctx context.Context, a A, b B, c C, d D) (R, error)) common.Endpoint {
	e := newEndpoint(fn, a, b, c, d)
	e.run = func(r *common.Request) *common.Response {
		var av A
		var bv B
		var cv C
		var dv D
		err := e.extract(r,
			func(r *common.Request) (err error) { av, err = a.Extract(r); return },
			func(r *common.Request) (err error) { bv, err = b.Extract(r); return },
			func(r *common.Request) (err error) { cv, err = c.Extract(r); return },
			func(r *common.Request) (err error) { dv, err = d.Extract(r); return },
		)
		if err != nil {
			return common.ErrorResponse(r, err)
		}
		res, err := fn(r.Context(), av, bv, cv, dv)
		return respond(r, res, err)
	}
	return e
}

// respond converts a handler result into a Response.
//   - *common.Response is returned as is
//   - common.Responder renders itself
//   - []byte becomes application/octet-stream, string becomes text/plain
//   - a nil pointer becomes 204 No Content
//   - anything else is encoded as JSON with status 200
func respond[R any](r *common.Request, res R, err error) *common.Response {
	if err != nil {
		return common.ErrorResponse(r, err)
	}

	v := any(res)
	if v == nil {
		return common.NoContent()
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return common.NoContent()
	}

	switch out := v.(type) {
	case *common.Response:
		return out
	case common.Responder:
		return out.Response()
	case []byte:
		return common.Bytes(http.StatusOK, out)
	case string:
		return common.Text(http.StatusOK, out)
	}
	return common.JSON(http.StatusOK, v)
}
