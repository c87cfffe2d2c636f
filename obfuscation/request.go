package obfuscation

import "context"

type ctxKey struct{}

// WithContext returns a copy of parent carrying c.
func WithContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// FromContext returns the Context bound by the transform middleware.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok && c != nil
}
