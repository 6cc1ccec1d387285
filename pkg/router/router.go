// Package router provides the route table of the SDispatch framework.
// It matches request paths against registered patterns with deterministic precedence,
// resolves methods, and dispatches to endpoints.
package router

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MatchKind is the outcome of route resolution.
type MatchKind int

const (
	// MatchNotFound means no pattern matched the path.
	MatchNotFound MatchKind = iota

	// MatchFound means a pattern matched the path and has an endpoint for the method.
	MatchFound

	// MatchMethodNotAllowed means the path matched but the method is not registered for it.
	MatchMethodNotAllowed
)

func (k MatchKind) String() string {
	switch k {
	case MatchFound:
		return "found"
	case MatchMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "not_found"
	}
}

// RouteMatch is the result of MatchRoute.
// Endpoint, Params and Pattern are set for MatchFound; Allowed for MatchMethodNotAllowed.
type RouteMatch struct {
	Kind     MatchKind
	Endpoint common.Endpoint
	Params   common.PathParams
	Pattern  string
	Allowed  []string
}

// RouteInfo describes one registered (method, pattern) pair.
type RouteInfo struct {
	Method  string
	Pattern string
	Params  []common.ParamInfo
}

// route is one pattern with its endpoints by method.
type route struct {
	pattern  *Pattern
	handlers map[string]common.Endpoint
	methods  []string // sorted
}

// Router is the route table. It is configured by a single goroutine and then
// shared read-only by every request.
type Router struct {
	routes []*route // sorted by precedence, highest first
	state  *common.State
	logger *zap.Logger
	errs   error
}

// NewRouter creates an empty Router. A nil logger is replaced with a no-op logger.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		state:  common.NewState(),
		logger: logger,
	}
}

// Route registers the methods of m under pattern.
// Errors are accumulated and returned by Build so that registration can be chained.
func (r *Router) Route(pattern string, m *MethodRouter) *Router {
	if err := r.add(pattern, m); err != nil {
		r.errs = multierr.Append(r.errs, err)
	}
	return r
}

// Handle registers a single endpoint and reports registration errors immediately.
func (r *Router) Handle(method, pattern string, ep common.Endpoint) error {
	return r.add(pattern, NewMethodRouter().On(method, ep))
}

func (r *Router) add(raw string, m *MethodRouter) error {
	if m == nil {
		return fmt.Errorf("route %s: nil method router", raw)
	}
	if err := m.Err(); err != nil {
		return fmt.Errorf("route %s: %w", raw, err)
	}
	p, err := ParsePattern(raw)
	if err != nil {
		return err
	}

	i, found := slices.BinarySearchFunc(r.routes, p, func(rt *route, target *Pattern) int {
		return rt.pattern.compare(target)
	})
	if !found {
		rt := &route{pattern: p, handlers: make(map[string]common.Endpoint)}
		for _, method := range m.methods {
			rt.handlers[method] = m.wrapped(method)
		}
		rt.methods = m.Methods()
		r.routes = slices.Insert(r.routes, i, rt)
		return nil
	}

	existing := r.routes[i]
	if !existing.pattern.sameNames(p) {
		return fmt.Errorf("route %s conflicts with %s: same shape, different parameter names", raw, existing.pattern)
	}
	for _, method := range m.methods {
		if _, exists := existing.handlers[method]; exists {
			return fmt.Errorf("route %s %s registered twice", method, raw)
		}
	}
	for _, method := range m.methods {
		existing.handlers[method] = m.wrapped(method)
		existing.methods = append(existing.methods, method)
	}
	slices.Sort(existing.methods)
	return nil
}

// Nest mounts every route of sub under prefix.
// Slashes are normalized, so Nest("/api/", sub) with a sub route "/users" serves "/api/users"
// and a sub route "/" serves "/api". Sub state is merged; values already on r win.
// Routes added to sub after Nest are not seen by r.
func (r *Router) Nest(prefix string, sub *Router) *Router {
	if sub == nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("nest %s: nil router", prefix))
		return r
	}
	if _, err := ParsePattern(httprouter.CleanPath(prefix)); err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("nest %s: %w", prefix, err))
		return r
	}
	r.errs = multierr.Append(r.errs, sub.errs)
	r.state.Merge(sub.state)

	for _, rt := range sub.routes {
		m := NewMethodRouter()
		for _, method := range rt.methods {
			m.On(method, rt.handlers[method])
		}
		r.Route(joinPath(prefix, rt.pattern.raw), m)
	}
	return r
}

func joinPath(prefix, pattern string) string {
	if pattern == "/" {
		p := httprouter.CleanPath(prefix)
		if len(p) > 1 {
			p = strings.TrimSuffix(p, "/")
		}
		return p
	}
	return httprouter.CleanPath(prefix + "/" + pattern)
}

// State attaches a shared value keyed by its dynamic type.
func (r *Router) State(v any) *Router {
	r.state.Insert(v)
	return r
}

// SharedState returns the state attached to this router
func (r *Router) SharedState() *common.State {
	return r.state
}

// Build reports every registration error and every endpoint whose configuration
// check fails against the attached state. A router that fails Build must not serve.
func (r *Router) Build() error {
	err := r.errs
	for _, rt := range r.routes {
		for _, method := range rt.methods {
			if c, ok := rt.handlers[method].(common.Checker); ok {
				if cerr := c.Check(r.state); cerr != nil {
					err = multierr.Append(err, fmt.Errorf("route %s %s: %w", method, rt.pattern, cerr))
				}
			}
		}
	}
	if err != nil {
		return err
	}
	for _, rt := range r.routes {
		r.logger.Debug("Route registered",
			zap.String("pattern", rt.pattern.raw),
			zap.Strings("methods", rt.methods),
		)
	}
	return nil
}

// MatchRoute resolves path and method against the route table.
// Routes are tried in precedence order and the first one whose pattern matches decides:
// it yields MatchFound if it has the method, MatchMethodNotAllowed otherwise.
func (r *Router) MatchRoute(path, method string) RouteMatch {
	parts := splitPath(path)
	for _, rt := range r.routes {
		var params common.PathParams
		if !rt.pattern.match(parts, &params) {
			continue
		}
		ep, ok := rt.handlers[method]
		if !ok {
			return RouteMatch{Kind: MatchMethodNotAllowed, Allowed: slices.Clone(rt.methods)}
		}
		return RouteMatch{Kind: MatchFound, Endpoint: ep, Params: params, Pattern: rt.pattern.raw}
	}
	return RouteMatch{Kind: MatchNotFound}
}

// Routes lists every registered (method, pattern) pair in precedence order
func (r *Router) Routes() []RouteInfo {
	var out []RouteInfo
	for _, rt := range r.routes {
		for _, method := range rt.methods {
			info := RouteInfo{Method: method, Pattern: rt.pattern.raw}
			if d, ok := rt.handlers[method].(common.Describer); ok {
				info.Params = d.Describe()
			}
			out = append(out, info)
		}
	}
	return out
}

// Handler returns the terminal continuation that routes and invokes endpoints.
// Unmatched paths produce 404 not_found; unmatched methods produce 405 method_not_allowed
// with an Allow header.
func (r *Router) Handler() common.Handler {
	return func(req *common.Request) *common.Response {
		m := r.MatchRoute(req.Path(), req.Method)
		switch m.Kind {
		case MatchFound:
			req.SetParams(m.Params)
			req.SetPattern(m.Pattern)
			req.SetState(r.state)
			resp := m.Endpoint.Handle(req)
			if resp != nil && resp.Err != nil {
				r.logError(req, resp)
			}
			return resp
		case MatchMethodNotAllowed:
			resp := common.ErrorResponse(req, common.MethodNotAllowed(
				fmt.Sprintf("Method %s not allowed for %s", req.Method, req.Path())))
			resp.Header.Set("Allow", strings.Join(m.Allowed, ", "))
			return resp
		default:
			return common.ErrorResponse(req, common.NotFound(
				fmt.Sprintf("No route for %s", req.Path())))
		}
	}
}

// logError logs the cause behind an error response. The client only ever sees the envelope.
func (r *Router) logError(req *common.Request, resp *common.Response) {
	fields := []zap.Field{
		zap.Error(resp.Err.Cause()),
		zap.Int("status", resp.Status),
		zap.String("type", resp.Err.Type),
		zap.String("method", req.Method),
		zap.String("path", req.Path()),
		zap.String("route", req.Pattern()),
	}
	if id := req.RequestID(); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if resp.Status >= 500 {
		r.logger.Error("Handler error", fields...)
		return
	}
	r.logger.Warn("Handler error", fields...)
}

// Endpoint adapts a plain function into an Endpoint.
func Endpoint(fn func(*common.Request) *common.Response) common.Endpoint {
	return common.Handler(fn)
}
