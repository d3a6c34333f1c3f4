package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// ExecutionIDKey is the context key for trace execution ids.
	ExecutionIDKey contextKey = "execution_id"

	// RequestIDKey is the context key for HTTP request ids.
	RequestIDKey contextKey = "request_id"

	// ApproverKey is the context key for the human resolving an approval.
	ApproverKey contextKey = "approver"
)

// WithExecutionID adds an execution id to the context.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// GetExecutionID retrieves the execution id from the context.
func GetExecutionID(ctx context.Context) string {
	if id, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithApprover adds an approver identity to the context.
func WithApprover(ctx context.Context, approver string) context.Context {
	return context.WithValue(ctx, ApproverKey, approver)
}

// GetApprover retrieves the approver identity from the context.
func GetApprover(ctx context.Context) string {
	if approver, ok := ctx.Value(ApproverKey).(string); ok {
		return approver
	}
	return ""
}

// contextAttrs extracts the log fields carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := GetExecutionID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(ExecutionIDKey), id))
	}
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), id))
	}
	if approver := GetApprover(ctx); approver != "" {
		attrs = append(attrs, slog.String(string(ApproverKey), approver))
	}
	return attrs
}

// FromContext returns logger with the context's fields attached, for code
// that logs without passing ctx on every call.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}
