package router

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

// segmentKind orders segments by precedence: lower kinds win.
type segmentKind uint8

const (
	literalSegment segmentKind = iota
	captureSegment
	catchAllSegment
)

func (k segmentKind) String() string {
	switch k {
	case literalSegment:
		return "literal"
	case captureSegment:
		return "capture"
	default:
		return "catch-all"
	}
}

type segment struct {
	kind segmentKind
	s    string // literal text or capture name
}

// Pattern is a parsed route path such as "/users/{id}/files/{*path}".
// Captures use {name} and bind exactly one non-empty path segment.
// A catch-all {*name} must be the final segment and binds the rest of the path.
type Pattern struct {
	raw  string
	segs []segment
}

// PatternError reports a malformed route pattern.
type PatternError struct {
	Pattern string
	Pos     int
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid route pattern %q at offset %d: %s", e.Pattern, e.Pos, e.Reason)
}

// ParsePattern validates and parses a route pattern.
func ParsePattern(raw string) (*Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, &PatternError{Pattern: raw, Pos: 0, Reason: "must start with '/'"}
	}
	if i := strings.Index(raw, "//"); i >= 0 {
		return nil, &PatternError{Pattern: raw, Pos: i, Reason: "empty segment"}
	}

	p := &Pattern{raw: raw}
	if raw == "/" {
		return p, nil
	}

	seen := make(map[string]bool)
	offset := 1
	parts := strings.Split(raw[1:], "/")
	for i, part := range parts {
		seg, err := parseSegment(raw, part, offset)
		if err != nil {
			return nil, err
		}
		if seg.kind != literalSegment {
			if seen[seg.s] {
				return nil, &PatternError{Pattern: raw, Pos: offset, Reason: fmt.Sprintf("duplicate parameter name %q", seg.s)}
			}
			seen[seg.s] = true
		}
		if seg.kind == catchAllSegment && i != len(parts)-1 {
			return nil, &PatternError{Pattern: raw, Pos: offset, Reason: "catch-all must be the final segment"}
		}
		p.segs = append(p.segs, seg)
		offset += len(part) + 1
	}
	return p, nil
}

func parseSegment(raw, part string, offset int) (segment, error) {
	open := strings.IndexByte(part, '{')
	end := strings.IndexByte(part, '}')

	if open < 0 {
		if end >= 0 {
			return segment{}, &PatternError{Pattern: raw, Pos: offset + end, Reason: "unmatched '}'"}
		}
		for j, r := range part {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("-_.~", r) {
				return segment{}, &PatternError{Pattern: raw, Pos: offset + j, Reason: fmt.Sprintf("invalid character %q", r)}
			}
		}
		return segment{kind: literalSegment, s: part}, nil
	}

	if end < 0 {
		return segment{}, &PatternError{Pattern: raw, Pos: offset + open, Reason: "unclosed '{'"}
	}
	if end < open {
		return segment{}, &PatternError{Pattern: raw, Pos: offset + end, Reason: "unmatched '}'"}
	}
	if strings.IndexByte(part[open+1:], '{') >= 0 && strings.IndexByte(part[open+1:], '{') < end-open-1 {
		return segment{}, &PatternError{Pattern: raw, Pos: offset + open, Reason: "nested '{'"}
	}
	if open != 0 || end != len(part)-1 {
		return segment{}, &PatternError{Pattern: raw, Pos: offset, Reason: "a parameter must span the whole segment"}
	}

	name := part[1 : len(part)-1]
	kind := captureSegment
	if strings.HasPrefix(name, "*") {
		kind = catchAllSegment
		name = name[1:]
	}
	if name == "" {
		return segment{}, &PatternError{Pattern: raw, Pos: offset, Reason: "empty parameter name"}
	}
	for j, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return segment{}, &PatternError{Pattern: raw, Pos: offset + j, Reason: fmt.Sprintf("invalid parameter name %q", name)}
		}
	}
	if name[0] >= '0' && name[0] <= '9' {
		return segment{}, &PatternError{Pattern: raw, Pos: offset, Reason: fmt.Sprintf("parameter name %q starts with a digit", name)}
	}
	return segment{kind: kind, s: name}, nil
}

// String returns the pattern as registered
func (p *Pattern) String() string {
	return p.raw
}

// ParamNames lists capture names in pattern order
func (p *Pattern) ParamNames() []string {
	var names []string
	for _, s := range p.segs {
		if s.kind != literalSegment {
			names = append(names, s.s)
		}
	}
	return names
}

// compare orders patterns by precedence. A negative result means p is tried before q.
// Segments are compared left to right: literal before capture before catch-all.
// Zero means both patterns have the same shape and would match the same paths.
func (p *Pattern) compare(q *Pattern) int {
	n := min(len(p.segs), len(q.segs))
	for i := 0; i < n; i++ {
		a, b := p.segs[i], q.segs[i]
		if a.kind != b.kind {
			return int(a.kind) - int(b.kind)
		}
		if a.kind == literalSegment && a.s != b.s {
			return strings.Compare(a.s, b.s)
		}
	}
	// Longer first; two patterns of different length never match the same path
	// unless one ends in a catch-all, which the loop above already ranked.
	return len(q.segs) - len(p.segs)
}

// sameNames reports whether two same-shape patterns name their captures identically.
func (p *Pattern) sameNames(q *Pattern) bool {
	for i := range p.segs {
		if p.segs[i].s != q.segs[i].s {
			return false
		}
	}
	return true
}

// splitPath splits a request path into segments. "/" has none.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match reports whether the path segments match p and binds captures into params.
func (p *Pattern) match(parts []string, params *common.PathParams) bool {
	for i, seg := range p.segs {
		if seg.kind == catchAllSegment {
			if i >= len(parts) {
				return false
			}
			rest := strings.Join(parts[i:], "/")
			if rest == "" {
				return false
			}
			params.Set(seg.s, rest)
			return true
		}
		if i >= len(parts) {
			return false
		}
		switch seg.kind {
		case literalSegment:
			if parts[i] != seg.s {
				return false
			}
		case captureSegment:
			if parts[i] == "" {
				return false
			}
			params.Set(seg.s, parts[i])
		}
	}
	return len(parts) == len(p.segs)
}
