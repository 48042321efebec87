// Package pipeline defines the middleware chain every tenant-scoped
// operation runs through.
//
// A Handler is one RPC-style operation: structured input in, result out.
// Middleware wraps a handler with a cross-cutting concern. Chain composes
// an ordered list of middleware so that the first listed middleware sees
// the call first — the access guard must run before the handler, and the
// audit middleware wraps the handler's result.
package pipeline

import "context"

// Input is the structured payload of one call.
type Input map[string]any

// String returns a string field from the input, or "" when absent or not a
// string.
func (in Input) String(key string) string {
	if v, ok := in[key].(string); ok {
		return v
	}
	return ""
}

// Handler executes one operation.
type Handler func(ctx context.Context, in Input) (any, error)

// Middleware wraps a handler with a cross-cutting concern.
type Middleware func(Handler) Handler

// Chain composes middleware around a handler. Chain(h, a, b) yields
// a(b(h)): a runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
