// Package observability is the process-wide logging, metrics, and
// tracing layer: one slog logger with secret redaction, prometheus
// collectors for the credential pool and the dispatcher, and an OTLP
// tracer that degrades to a no-op when unconfigured.
package observability

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	taskIDKey    contextKey = "task_id"
	batchIDKey   contextKey = "batch_id"
)

// WithSessionID attaches a session id to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// GetSessionID reads the session id, empty when absent.
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithTaskID attaches a task id to the context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// GetTaskID reads the task id, empty when absent.
func GetTaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey).(string)
	return v
}

// WithBatchID attaches a batch id to the context.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// GetBatchID reads the batch id, empty when absent.
func GetBatchID(ctx context.Context) string {
	v, _ := ctx.Value(batchIDKey).(string)
	return v
}
