// Package common provides shared types and utilities used across the SDispatch framework.
package common

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"net/http"
	"net/url"
	"reflect"
)

// ErrBodyConsumed is returned when the request body is taken a second time.
var ErrBodyConsumed = errors.New("request body already consumed")

// Handler is the continuation type of the dispatch core.
// A Handler receives exclusive use of a Request and produces exactly one Response.
type Handler func(*Request) *Response

// Handle calls h(r), which lets a plain function satisfy Endpoint.
func (h Handler) Handle(r *Request) *Response {
	return h(r)
}

// Endpoint is anything the router can dispatch a matched request to.
type Endpoint interface {
	Handle(*Request) *Response
}

// Request is the framework's view of an inbound HTTP request.
// The body has already been read by the server; it can be taken once.
type Request struct {
	Method        string
	URL           *url.URL
	Header        http.Header
	RemoteAddr    string
	ContentLength int64

	ctx       context.Context
	body      []byte
	bodyTaken bool
	state     *State
	params    PathParams
	pattern   string
	requestID string
	ext       map[reflect.Type]any
}

// NewRequest builds a Request from its parts. It is used by the server and by tests.
// A nil ctx is replaced with context.Background().
func NewRequest(ctx context.Context, method, target string, header http.Header, body []byte) (*Request, error) {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if header == nil {
		header = make(http.Header)
	}
	return &Request{
		Method:        method,
		URL:           u,
		Header:        header,
		ContentLength: int64(len(body)),
		ctx:           ctx,
		body:          body,
	}, nil
}

// FromHTTP converts a net/http request whose body was already buffered into a Request.
func FromHTTP(r *http.Request, body []byte) *Request {
	return &Request{
		Method:        r.Method,
		URL:           r.URL,
		Header:        r.Header,
		RemoteAddr:    r.RemoteAddr,
		ContentLength: r.ContentLength,
		ctx:           r.Context(),
		body:          body,
	}
}

// Context returns the request context. It is never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext replaces the request context in place and returns r.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r.ctx = ctx
	return r
}

// Clone returns a copy of the request that can be handed to another goroutine.
// Headers, params and extensions are copied; the body and state are shared read-only.
func (r *Request) Clone(ctx context.Context) *Request {
	c := *r
	if ctx != nil {
		c.ctx = ctx
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.params = r.params.clone()
	if r.ext != nil {
		c.ext = maps.Clone(r.ext)
	}
	return &c
}

// TakeBody returns the buffered body. Only the first call succeeds.
func (r *Request) TakeBody() ([]byte, error) {
	if r.bodyTaken {
		return nil, ErrBodyConsumed
	}
	r.bodyTaken = true
	b := r.body
	r.body = nil
	return b, nil
}

// BodyReader is TakeBody wrapped in an io.Reader for decoders that want one.
func (r *Request) BodyReader() (io.Reader, error) {
	b, err := r.TakeBody()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// BodyLen reports the length of the buffered body without consuming it.
func (r *Request) BodyLen() int {
	return len(r.body)
}

// BodyTaken reports whether the body has been consumed.
func (r *Request) BodyTaken() bool {
	return r.bodyTaken
}

// Path returns the request path.
func (r *Request) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

// Query returns the parsed query string.
func (r *Request) Query() url.Values {
	if r.URL == nil {
		return url.Values{}
	}
	return r.URL.Query()
}

// Params returns the path parameters bound by the router.
func (r *Request) Params() PathParams {
	return r.params
}

// SetParams stores the path parameters of the matched route.
func (r *Request) SetParams(p PathParams) {
	r.params = p
}

// Pattern returns the route pattern that matched this request, or "" before routing.
func (r *Request) Pattern() string {
	return r.pattern
}

// SetPattern records the matched route pattern.
func (r *Request) SetPattern(pattern string) {
	r.pattern = pattern
}

// State returns the shared application state. It is never nil.
func (r *Request) State() *State {
	if r.state == nil {
		return emptyState
	}
	return r.state
}

// SetState attaches the shared application state.
func (r *Request) SetState(s *State) {
	r.state = s
}

// RequestID returns the correlation id assigned to the request.
func (r *Request) RequestID() string {
	return r.requestID
}

// SetRequestID assigns the correlation id used in logs and error bodies.
func (r *Request) SetRequestID(id string) {
	r.requestID = id
}

// SetExtension stores a per-request value keyed by its type.
// Layers use extensions to hand data to extractors (client ip, authenticated key, span).
func SetExtension[T any](r *Request, v T) {
	if r.ext == nil {
		r.ext = make(map[reflect.Type]any)
	}
	r.ext[reflect.TypeFor[T]()] = v
}

// GetExtension returns the per-request value of type T, if any.
func GetExtension[T any](r *Request) (T, bool) {
	v, ok := r.ext[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Response is the value a Handler produces. The server writes it once.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Upgrade, when set, takes over the connection after the status line is decided.
	// The server calls it with the raw writer and request instead of writing Body.
	Upgrade func(w http.ResponseWriter, r *http.Request)

	// Err is the failure behind an error response that should reach the logs:
	// server errors and errors carrying an internal cause. It is never written.
	Err *Error
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// SetHeader sets a header value and returns the response for chaining.
func (resp *Response) SetHeader(key, value string) *Response {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(key, value)
	return resp
}

// Layer is a named, shareable unit of behaviour wrapped around a continuation.
// A layer may act before and after next, replace the response, or not call next at all.
// Layers are invoked from many goroutines at once; mutable state must be synchronized.
type Layer interface {
	Name() string
	Call(r *Request, next Handler) *Response
}

type layerFunc struct {
	name string
	fn   func(*Request, Handler) *Response
}

func (l layerFunc) Name() string { return l.name }

func (l layerFunc) Call(r *Request, next Handler) *Response { return l.fn(r, next) }

// LayerFunc turns a function into a named Layer.
func LayerFunc(name string, fn func(r *Request, next Handler) *Response) Layer {
	return layerFunc{name: name, fn: fn}
}

// Checker is implemented by endpoints that can verify their configuration before serving,
// for example that every state type they read has been attached.
type Checker interface {
	Check(state *State) error
}

// ParamInfo describes one input an endpoint reads, for documentation collaborators.
type ParamInfo struct {
	In   string // "path", "query", "header", "body", "state"
	Name string
	Type string
}

// Describer is implemented by endpoints that can list their inputs.
type Describer interface {
	Describe() []ParamInfo
}

// ClientIP is the client address resolved by the client ip layer, stored as a request extension.
type ClientIP string
