// Package extract turns request parts and bodies into typed handler arguments.
//
// An extractor is either a parts extractor, which reads the method, URI, headers,
// path parameters, state or extensions and may run any number of times, or a body
// extractor, which consumes the buffered body. A handler built with HandlerN runs
// its parts extractors in declared order and then its single body extractor.
// An extraction failure becomes an error response and the handler never runs.
package extract

import (
	"reflect"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

// Kind distinguishes extractors that consume the body from those that do not.
type Kind int

const (
	// Parts extractors read only the request head, params, state and extensions.
	Parts Kind = iota

	// Body extractors consume the request body. A handler may declare at most one.
	Body
)

func (k Kind) String() string {
	if k == Body {
		return "body"
	}
	return "parts"
}

// Extractor produces a T from a request.
type Extractor[T any] interface {
	Kind() Kind
	Extract(r *common.Request) (T, error)
}

// stateRequirer is implemented by extractors that read shared state.
// The types they need are checked when the router is built.
type stateRequirer interface {
	RequiredState() []reflect.Type
}

// describer is implemented by extractors that can describe their input.
type describer interface {
	Describe() []common.ParamInfo
}

// kinded is the part of Extractor that does not depend on T.
type kinded interface {
	Kind() Kind
}

// funcExtractor is the shared implementation behind the built-in extractors.
type funcExtractor[T any] struct {
	kind  Kind
	fn    func(*common.Request) (T, error)
	info  []common.ParamInfo
	needs []reflect.Type
}

func (e *funcExtractor[T]) Kind() Kind { return e.kind }

func (e *funcExtractor[T]) Extract(r *common.Request) (T, error) { return e.fn(r) }

func (e *funcExtractor[T]) Describe() []common.ParamInfo { return e.info }

func (e *funcExtractor[T]) RequiredState() []reflect.Type { return e.needs }

// New creates a parts extractor from a function. It is the extension point for
// application-specific extractors.
func New[T any](fn func(*common.Request) (T, error)) Extractor[T] {
	return &funcExtractor[T]{kind: Parts, fn: fn}
}

// NewBody creates a body extractor from a function. fn is responsible for taking the body.
func NewBody[T any](fn func(*common.Request) (T, error)) Extractor[T] {
	return &funcExtractor[T]{kind: Body, fn: fn}
}

func parts[T any](in, name string, fn func(*common.Request) (T, error)) *funcExtractor[T] {
	return &funcExtractor[T]{
		kind: Parts,
		fn:   fn,
		info: []common.ParamInfo{{In: in, Name: name, Type: typeName[T]()}},
	}
}

func body[T any](name string, fn func(*common.Request) (T, error)) *funcExtractor[T] {
	return &funcExtractor[T]{
		kind: Body,
		fn:   fn,
		info: []common.ParamInfo{{In: "body", Name: name, Type: typeName[T]()}},
	}
}

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface {
		return "any"
	}
	return t.String()
}
