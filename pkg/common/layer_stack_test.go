package common

import (
	"context"
	"net/http"
	"reflect"
	"testing"
)

func newTestRequest(t *testing.T, method, target string) *Request {
	t.Helper()
	req, err := NewRequest(context.Background(), method, target, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	return req
}

func headerLayer(name, key, value string) Layer {
	return LayerFunc(name, func(r *Request, next Handler) *Response {
		resp := next(r)
		resp.Header.Add(key, value)
		return resp
	})
}

func TestLayerStack(t *testing.T) {
	var stack LayerStack
	stack.Push(headerLayer("one", "X-Test-1", "value1"))
	stack.Push(headerLayer("two", "X-Test-2", "value2"))

	final := func(r *Request) *Response {
		resp := Text(http.StatusOK, "OK")
		resp.Header.Add("X-Final", "final")
		return resp
	}

	resp := stack.Build(final)(newTestRequest(t, "GET", "/foo"))

	if resp.Status != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.Status)
	}
	if resp.Header.Get("X-Test-1") != "value1" {
		t.Errorf("Expected X-Test-1 header to be %q, got %q", "value1", resp.Header.Get("X-Test-1"))
	}
	if resp.Header.Get("X-Test-2") != "value2" {
		t.Errorf("Expected X-Test-2 header to be %q, got %q", "value2", resp.Header.Get("X-Test-2"))
	}
	if resp.Header.Get("X-Final") != "final" {
		t.Errorf("Expected X-Final header to be %q, got %q", "final", resp.Header.Get("X-Final"))
	}
	if string(resp.Body) != "OK" {
		t.Errorf("Expected body %q, got %q", "OK", string(resp.Body))
	}
}

// TestLayerStackOrder tests that the first pushed layer runs outermost
func TestLayerStackOrder(t *testing.T) {
	var order []string
	trace := func(name string) Layer {
		return LayerFunc(name, func(r *Request, next Handler) *Response {
			order = append(order, name+"-before")
			resp := next(r)
			order = append(order, name+"-after")
			return resp
		})
	}

	stack := NewLayerStack(trace("L1"), trace("L2"))
	h := stack.Build(func(r *Request) *Response {
		order = append(order, "H")
		return NoContent()
	})
	h(newTestRequest(t, "GET", "/"))

	expected := []string{"L1-before", "L2-before", "H", "L2-after", "L1-after"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("Expected order %v, got %v", expected, order)
	}
}

// TestLayerStackPrependAppend tests that Prepend and Append do not alias the original stack
func TestLayerStackPrependAppend(t *testing.T) {
	base := NewLayerStack(headerLayer("base", "X-Base", "1"))
	withOuter := base.Prepend(headerLayer("outer", "X-Outer", "1"))
	withInner := base.Append(headerLayer("inner", "X-Inner", "1"))

	if got := withOuter.Names(); !reflect.DeepEqual(got, []string{"outer", "base"}) {
		t.Errorf("Expected [outer base], got %v", got)
	}
	if got := withInner.Names(); !reflect.DeepEqual(got, []string{"base", "inner"}) {
		t.Errorf("Expected [base inner], got %v", got)
	}
	if len(base) != 1 {
		t.Errorf("Expected base stack to keep 1 layer, got %d", len(base))
	}
}

// TestLayerShortCircuit tests that a layer can answer without calling next
func TestLayerShortCircuit(t *testing.T) {
	called := false
	stack := NewLayerStack(LayerFunc("deny", func(r *Request, next Handler) *Response {
		return ErrorResponse(r, Unauthorized("missing key"))
	}))
	resp := stack.Build(func(r *Request) *Response {
		called = true
		return NoContent()
	})(newTestRequest(t, "GET", "/"))

	if called {
		t.Error("Expected terminal handler not to be called")
	}
	if resp.Status != http.StatusUnauthorized {
		t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, resp.Status)
	}
}

// TestEmptyLayerStack tests that an empty stack returns the terminal handler
func TestEmptyLayerStack(t *testing.T) {
	resp := NewLayerStack().Build(func(r *Request) *Response {
		return Text(http.StatusTeapot, "tea")
	})(newTestRequest(t, "GET", "/"))
	if resp.Status != http.StatusTeapot {
		t.Errorf("Expected status code %d, got %d", http.StatusTeapot, resp.Status)
	}
}
