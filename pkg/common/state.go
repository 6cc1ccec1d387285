package common

import (
	"reflect"
)

var emptyState = NewState()

// State is the shared application state, keyed by the dynamic type of each value.
// It is filled at configuration time and read concurrently while serving.
type State struct {
	values map[reflect.Type]any
}

// NewState creates an empty State
func NewState() *State {
	return &State{values: make(map[reflect.Type]any)}
}

// Insert stores v under its dynamic type, replacing any previous value of that type.
func (s *State) Insert(v any) {
	if v == nil {
		return
	}
	s.values[reflect.TypeOf(v)] = v
}

// Has reports whether a value of type t is present
func (s *State) Has(t reflect.Type) bool {
	_, ok := s.values[t]
	return ok
}

// Len returns the number of stored values
func (s *State) Len() int {
	return len(s.values)
}

// Merge copies values from other that s does not already hold.
func (s *State) Merge(other *State) {
	if other == nil {
		return
	}
	for t, v := range other.values {
		if _, ok := s.values[t]; !ok {
			s.values[t] = v
		}
	}
}

// StateValue returns the value of type T stored in s
func StateValue[T any](s *State) (T, bool) {
	if s == nil {
		var zero T
		return zero, false
	}
	v, ok := s.values[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
