package common

import (
	"iter"

	"github.com/julienschmidt/httprouter"
)

const inlineParams = 4

// PathParams holds the values captured by a route pattern, in pattern order.
// Up to four pairs are stored inline; more spill to a heap slice.
// Keys are unique: setting an existing key replaces its value.
type PathParams struct {
	inline [inlineParams]httprouter.Param
	n      int
	spill  []httprouter.Param
}

// Set inserts or replaces a parameter
func (p *PathParams) Set(key, value string) {
	if p.spill != nil {
		for i := range p.spill {
			if p.spill[i].Key == key {
				p.spill[i].Value = value
				return
			}
		}
		p.spill = append(p.spill, httprouter.Param{Key: key, Value: value})
		return
	}
	for i := 0; i < p.n; i++ {
		if p.inline[i].Key == key {
			p.inline[i].Value = value
			return
		}
	}
	if p.n < inlineParams {
		p.inline[p.n] = httprouter.Param{Key: key, Value: value}
		p.n++
		return
	}
	p.spill = make([]httprouter.Param, 0, inlineParams*2)
	p.spill = append(p.spill, p.inline[:p.n]...)
	p.spill = append(p.spill, httprouter.Param{Key: key, Value: value})
	p.inline = [inlineParams]httprouter.Param{}
	p.n = 0
}

func (p PathParams) entries() []httprouter.Param {
	if p.spill != nil {
		return p.spill
	}
	return p.inline[:p.n]
}

// Get returns the value for key and whether it was present
func (p PathParams) Get(key string) (string, bool) {
	for _, e := range p.entries() {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// ByName returns the value for key, or "" if absent
func (p PathParams) ByName(key string) string {
	v, _ := p.Get(key)
	return v
}

// Len returns the number of parameters
func (p PathParams) Len() int {
	return len(p.entries())
}

// Spilled reports whether the parameters outgrew inline storage
func (p PathParams) Spilled() bool {
	return p.spill != nil
}

// All iterates over the parameters in insertion order
func (p PathParams) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, e := range p.entries() {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// HTTPRouterParams returns a copy in httprouter form for code written against httprouter.
func (p PathParams) HTTPRouterParams() httprouter.Params {
	e := p.entries()
	out := make(httprouter.Params, len(e))
	copy(out, e)
	return out
}

func (p PathParams) clone() PathParams {
	c := p
	if p.spill != nil {
		c.spill = append([]httprouter.Param(nil), p.spill...)
	}
	return c
}
