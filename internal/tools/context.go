package tools

import "context"

type contextKey string

const (
	threadIDKey contextKey = "thread_id"
	callIDKey   contextKey = "call_id"
)

// WithThreadID adds the thread ID to the context passed to handlers.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadIDFromContext extracts the thread ID, or "" if unset.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// WithCallID adds the model-assigned tool call ID to the context.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext extracts the tool call ID, or "" if unset.
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey).(string)
	return id
}
