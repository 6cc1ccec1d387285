package router

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.uber.org/multierr"
)

// MethodRouter maps HTTP methods to endpoints for a single route pattern.
// Registration mistakes are recorded and reported by Router.Build.
type MethodRouter struct {
	handlers map[string]common.Endpoint
	methods  []string
	layers   common.LayerStack
	err      error
}

// NewMethodRouter creates an empty MethodRouter
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]common.Endpoint)}
}

// On registers ep for method. Registering the same method twice is an error.
func (m *MethodRouter) On(method string, ep common.Endpoint) *MethodRouter {
	method = strings.ToUpper(method)
	if method == "" {
		m.err = multierr.Append(m.err, fmt.Errorf("empty method"))
		return m
	}
	if ep == nil {
		m.err = multierr.Append(m.err, fmt.Errorf("nil endpoint for method %s", method))
		return m
	}
	if _, exists := m.handlers[method]; exists {
		m.err = multierr.Append(m.err, fmt.Errorf("method %s registered twice", method))
		return m
	}
	m.handlers[method] = ep
	m.methods = append(m.methods, method)
	return m
}

// Get registers a GET endpoint
func (m *MethodRouter) Get(ep common.Endpoint) *MethodRouter { return m.On(http.MethodGet, ep) }

// Post registers a POST endpoint
func (m *MethodRouter) Post(ep common.Endpoint) *MethodRouter { return m.On(http.MethodPost, ep) }

// Put registers a PUT endpoint
func (m *MethodRouter) Put(ep common.Endpoint) *MethodRouter { return m.On(http.MethodPut, ep) }

// Patch registers a PATCH endpoint
func (m *MethodRouter) Patch(ep common.Endpoint) *MethodRouter { return m.On(http.MethodPatch, ep) }

// Delete registers a DELETE endpoint
func (m *MethodRouter) Delete(ep common.Endpoint) *MethodRouter { return m.On(http.MethodDelete, ep) }

// Head registers a HEAD endpoint
func (m *MethodRouter) Head(ep common.Endpoint) *MethodRouter { return m.On(http.MethodHead, ep) }

// Options registers an OPTIONS endpoint
func (m *MethodRouter) Options(ep common.Endpoint) *MethodRouter { return m.On(http.MethodOptions, ep) }

// With wraps every endpoint of this route in the given layers.
// Route layers run inside the application layers, closest to the endpoint.
func (m *MethodRouter) With(layers ...common.Layer) *MethodRouter {
	m.layers.Push(layers...)
	return m
}

// Merge adds the methods of other. A method present in both is an error.
func (m *MethodRouter) Merge(other *MethodRouter) error {
	if other == nil {
		return nil
	}
	var err error
	for _, method := range other.methods {
		if _, exists := m.handlers[method]; exists {
			err = multierr.Append(err, fmt.Errorf("method %s registered twice", method))
			continue
		}
		m.handlers[method] = other.wrapped(method)
		m.methods = append(m.methods, method)
	}
	return err
}

// Methods returns the registered methods, sorted
func (m *MethodRouter) Methods() []string {
	out := slices.Clone(m.methods)
	slices.Sort(out)
	return out
}

// Err returns the registration errors recorded so far
func (m *MethodRouter) Err() error {
	return m.err
}

// wrapped returns the endpoint for method with route layers applied
func (m *MethodRouter) wrapped(method string) common.Endpoint {
	ep := m.handlers[method]
	if len(m.layers) == 0 {
		return ep
	}
	return &layeredEndpoint{inner: ep, handler: m.layers.Build(ep.Handle)}
}

// layeredEndpoint keeps the configuration hooks of the inner endpoint visible to Build.
type layeredEndpoint struct {
	inner   common.Endpoint
	handler common.Handler
}

func (e *layeredEndpoint) Handle(r *common.Request) *common.Response {
	return e.handler(r)
}

func (e *layeredEndpoint) Check(s *common.State) error {
	if c, ok := e.inner.(common.Checker); ok {
		return c.Check(s)
	}
	return nil
}

func (e *layeredEndpoint) Describe() []common.ParamInfo {
	if d, ok := e.inner.(common.Describer); ok {
		return d.Describe()
	}
	return nil
}

// Get creates a MethodRouter with a GET endpoint
func Get(ep common.Endpoint) *MethodRouter { return NewMethodRouter().Get(ep) }

// Post creates a MethodRouter with a POST endpoint
func Post(ep common.Endpoint) *MethodRouter { return NewMethodRouter().Post(ep) }

// Put creates a MethodRouter with a PUT endpoint
func Put(ep common.Endpoint) *MethodRouter { return NewMethodRouter().Put(ep) }

// Patch creates a MethodRouter with a PATCH endpoint
func Patch(ep common.Endpoint) *MethodRouter { return NewMethodRouter().Patch(ep) }

// Delete creates a MethodRouter with a DELETE endpoint
func Delete(ep common.Endpoint) *MethodRouter { return NewMethodRouter().Delete(ep) }
