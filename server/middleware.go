package server

import "strings"

type MiddlewareFunc func(chain *Chain, ctx *Context)

// Middleware intercepts requests whose method and path match. Order is
// recorded but not applied: middlewares run in registration order.
type Middleware struct {
	Method  Method
	Pattern string
	Order   int
	Handler MiddlewareFunc
}

// NewMiddleware returns a middleware matching every method and path.
func NewMiddleware(fn MiddlewareFunc) *Middleware {
	return &Middleware{
		Pattern: CatchAll,
		Handler: fn,
	}
}

func (m *Middleware) ForMethod(method Method) *Middleware {
	m.Method = method
	return m
}

func (m *Middleware) ForPath(pattern string) *Middleware {
	m.Pattern = pattern
	return m
}

func (m *Middleware) WithOrder(order int) *Middleware {
	m.Order = order
	return m
}

// Matches reports whether m applies to req. Unlike routes, a wildcard
// middleware pattern only matches the path equal to its stripped prefix;
// CatchAll is the one pattern that applies everywhere.
func (m *Middleware) Matches(req *Request) bool {
	if !methodMatches(m.Method, req.Method) {
		return false
	}
	if m.Pattern == CatchAll || m.Pattern == req.Path {
		return true
	}
	prefix, ok := strings.CutSuffix(m.Pattern, WildcardSuffix)
	return ok && prefix == req.Path
}

func matchMiddlewares(all []*Middleware, req *Request) []*Middleware {
	var matched []*Middleware
	for _, m := range all {
		if m.Matches(req) {
			matched = append(matched, m)
		}
	}
	return matched
}

// Context carries one request through its chain.
type Context struct {
	ID       string
	Request  *Request
	Response *Response
	Route    *RouteMapping // set once the router has matched

	values map[string]any
}

func NewContext(id string, req *Request) *Context {
	return &Context{
		ID:      id,
		Request: req,
	}
}

func (c *Context) SetResponse(resp *Response) {
	c.Response = resp
}

func (c *Context) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Chain drives one request through its matched middlewares and then the
// route handler. Each middleware continues explicitly by calling Next.
type Chain struct {
	handler     HandlerFunc
	middlewares []*Middleware
	index       int
	aborted     bool
	handled     bool
}

func NewChain(handler HandlerFunc, middlewares []*Middleware) *Chain {
	return &Chain{
		handler:     handler,
		middlewares: middlewares,
	}
}

// Next invokes the next middleware, or the handler once the middlewares
// are exhausted. It does nothing after Abort or once the handler has run.
func (c *Chain) Next(ctx *Context) {
	if c.aborted || c.handled {
		return
	}

	if c.index < len(c.middlewares) {
		m := c.middlewares[c.index]
		c.index++
		m.Handler(c, ctx)
		return
	}

	c.handled = true
	if c.handler != nil {
		c.handler(ctx)
	}
}

// Abort stops the chain: no further middleware or handler runs and the
// response currently on the context is final.
func (c *Chain) Abort() {
	c.aborted = true
}

func (c *Chain) IsAborted() bool {
	return c.aborted
}

// Handled reports whether the route handler has been invoked.
func (c *Chain) Handled() bool {
	return c.handled
}

// Run executes the chain to its end. A middleware that returns without
// calling Next or Abort passes through to the rest of the chain.
func (c *Chain) Run(ctx *Context) {
	for !c.aborted && !c.handled {
		c.Next(ctx)
	}
}
