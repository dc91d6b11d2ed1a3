package router

import (
	"context"
	"net/http"
	"time"
)

// Context is the default handler.Context implementation used whenever a
// router is created without a custom context factory (router.New[*Context]()).
// Its zero value is usable: &Context{} satisfies handler.Context.
type Context struct {
	w      http.ResponseWriter
	r      *http.Request
	params map[string]string
	values map[any]any
}

// newContext builds a *Context for a single request. params may be nil.
func newContext(w http.ResponseWriter, r *http.Request, params map[string]string) *Context {
	return &Context{w: w, r: r, params: params}
}

// Request returns the in-flight HTTP request.
func (c *Context) Request() *http.Request {
	return c.r
}

// ResponseWriter returns the response writer for the in-flight request.
func (c *Context) ResponseWriter() http.ResponseWriter {
	return c.w
}

// Param returns the named path parameter, or "" if it was not captured by
// the matched route.
func (c *Context) Param(key string) string {
	if c.params == nil {
		return ""
	}
	return c.params[key]
}

// SetValue stores a request-scoped value, readable back through Value.
func (c *Context) SetValue(key, val any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = val
}

// Deadline delegates to the request's context.
func (c *Context) Deadline() (time.Time, bool) {
	return c.requestContext().Deadline()
}

// Done delegates to the request's context.
func (c *Context) Done() <-chan struct{} {
	return c.requestContext().Done()
}

// Err delegates to the request's context.
func (c *Context) Err() error {
	return c.requestContext().Err()
}

// Value first checks values set via SetValue, then falls back to the
// request's context.
func (c *Context) Value(key any) any {
	if c.values != nil {
		if v, ok := c.values[key]; ok {
			return v
		}
	}
	return c.requestContext().Value(key)
}

func (c *Context) requestContext() context.Context {
	if c.r == nil {
		return context.Background()
	}
	return c.r.Context()
}
