// Package router holds the live routing table mapping HTTP requests to
// backend gRPC methods.
package router

import (
	"strings"
	"sync"
)

// Route binds an HTTP method and path pattern to a backend gRPC method.
// Patterns use ":name" segments for parameters.
type Route struct {
	Method     string
	Path       string
	Backend    string
	GRPCMethod string
}

// Decision is a resolved route plus the bound path parameters.
type Decision struct {
	Backend    string
	GRPCMethod string
	Params     map[string]string
}

// segment is one element of a parsed pattern.
type segment struct {
	literal string
	param   string // non-empty for :name segments
}

type patternRoute struct {
	method   string
	segments []segment
	route    Route
}

// Table is the two-level route index: an exact map for fully static
// patterns and an ordered list for parameterised ones. Reads are many and
// lock-free apart from the RWMutex read path; writes replace both indices
// at once, so a lookup sees either the old table or the new one.
type Table struct {
	mu       sync.RWMutex
	exact    map[string]Route
	patterns []patternRoute
	routes   []Route
}

// New creates an empty table.
func New() *Table {
	return &Table{exact: make(map[string]Route)}
}

// Update replaces the whole table.
func (t *Table) Update(routes []Route) {
	exact := make(map[string]Route, len(routes))
	var patterns []patternRoute

	for _, r := range routes {
		method := strings.ToUpper(r.Method)
		segs := parsePattern(r.Path)

		static := true
		for _, s := range segs {
			if s.param != "" {
				static = false
				break
			}
		}

		if static {
			exact[exactKey(method, r.Path)] = r
		} else {
			patterns = append(patterns, patternRoute{method: method, segments: segs, route: r})
		}
	}

	t.mu.Lock()
	t.exact = exact
	t.patterns = patterns
	t.routes = append([]Route(nil), routes...)
	t.mu.Unlock()
}

// Route resolves a request. The exact index wins; otherwise patterns are
// scanned in insertion order. Returns false when nothing matches.
func (t *Table) Route(method, path string) (Decision, bool) {
	method = strings.ToUpper(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.exact[exactKey(method, path)]; ok {
		return Decision{Backend: r.Backend, GRPCMethod: r.GRPCMethod, Params: map[string]string{}}, true
	}

	parts := splitPath(path)
	for _, pr := range t.patterns {
		if pr.method != method || len(pr.segments) != len(parts) {
			continue
		}
		params, ok := matchSegments(pr.segments, parts)
		if !ok {
			continue
		}
		return Decision{Backend: pr.route.Backend, GRPCMethod: pr.route.GRPCMethod, Params: params}, true
	}
	return Decision{}, false
}

// RoutesFor returns the routes currently installed for one backend.
func (t *Table) RoutesFor(backend string) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Route
	for _, r := range t.routes {
		if r.Backend == backend {
			out = append(out, r)
		}
	}
	return out
}

// Routes returns a copy of every installed route.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.routes...)
}

// Len returns the installed route count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

func exactKey(method, path string) string {
	return method + " " + normalizePath(path)
}

// normalizePath rejoins the non-empty segments so trailing slashes and
// doubled slashes do not defeat the exact index.
func normalizePath(path string) string {
	return "/" + strings.Join(splitPath(path), "/")
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func parsePattern(pattern string) []segment {
	parts := splitPath(pattern)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			segs[i] = segment{param: p[1:]}
		} else {
			segs[i] = segment{literal: p}
		}
	}
	return segs
}

// matchSegments compares literal segments case-sensitively and binds
// parameter segments. Lengths are already known equal.
func matchSegments(segs []segment, parts []string) (map[string]string, bool) {
	params := map[string]string{}
	for i, s := range segs {
		if s.param != "" {
			params[s.param] = parts[i]
			continue
		}
		if s.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}
