package logger

import "context"

type contextKey string

const (
	loggerKey     contextKey = "memsnap.logger"
	requestIDKey  contextKey = "memsnap.request_id"
	instanceIDKey contextKey = "memsnap.instance_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the context logger, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID tags the context with an HTTP request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithInstanceID tags the context with the sandboxed instance that owns the
// snapshot lifecycle.
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

// InstanceIDFromContext returns the instance ID, or "".
func InstanceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(instanceIDKey).(string)
	return id
}

// L returns the context logger enriched with request_id and instance_id.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if id := InstanceIDFromContext(ctx); id != "" {
		l = l.With("instance_id", id)
	}
	return l
}
