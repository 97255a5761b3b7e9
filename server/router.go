package server

import "strings"

const (
	// WildcardSuffix turns a pattern into a prefix match.
	WildcardSuffix = "**"
	// CatchAll matches every path.
	CatchAll = "/" + WildcardSuffix
)

type HandlerFunc func(ctx *Context)

// RouteMapping binds a handler to a path pattern. An empty Method
// matches any method.
type RouteMapping struct {
	Method  Method
	Pattern string
	Handler HandlerFunc
}

func (m *RouteMapping) Matches(req *Request) bool {
	if !methodMatches(m.Method, req.Method) {
		return false
	}
	if m.Pattern == req.Path {
		return true
	}
	prefix, ok := strings.CutSuffix(m.Pattern, WildcardSuffix)
	return ok && strings.HasPrefix(req.Path, prefix)
}

func methodMatches(filter, method Method) bool {
	return filter == "" || filter == method
}

// Router keeps routes in registration order; the first match wins, so
// broader patterns registered early shadow narrower ones added later.
type Router struct {
	routes []*RouteMapping
}

func (r *Router) Add(method Method, pattern string, h HandlerFunc) *RouteMapping {
	m := &RouteMapping{
		Method:  method,
		Pattern: pattern,
		Handler: h,
	}
	r.routes = append(r.routes, m)
	return m
}

// Match returns the first route matching req, or nil.
func (r *Router) Match(req *Request) *RouteMapping {
	for _, m := range r.routes {
		if m.Matches(req) {
			return m
		}
	}
	return nil
}

func (r *Router) Len() int {
	return len(r.routes)
}
