package middleware

import "context"

type contextKey int

const requestIDKey contextKey = iota

// RequestIDFromContext returns the request ID attached by TracingMiddleware,
// or "" if none is present (e.g. in a unit test that calls a handler directly).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
