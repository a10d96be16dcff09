package token

import "context"

type contextKey struct{}

// WithContext returns a context carrying an already-resolved token.
func WithContext(ctx context.Context, t SecurityToken) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the token stored by WithContext, or nil.
func FromContext(ctx context.Context) SecurityToken {
	t, _ := ctx.Value(contextKey{}).(SecurityToken)
	return t
}
