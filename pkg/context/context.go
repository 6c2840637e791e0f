// Package context carries request tracing values through group operations
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	operationKey
	startTimeKey
	groupIDKey
)

// WithRequestID adds a request ID to the context, generating one when empty
func WithRequestID(parent context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = NewRequestID()
	}
	return context.WithValue(parent, requestIDKey, requestID)
}

// RequestID retrieves the request ID from context
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// WithOperation names the operation being traced and stamps its start time
func WithOperation(parent context.Context, op string) context.Context {
	ctx := context.WithValue(parent, operationKey, op)
	return context.WithValue(ctx, startTimeKey, time.Now())
}

// Operation retrieves the operation name from context
func Operation(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operationKey).(string)
	return op, ok && op != ""
}

// Elapsed returns the time since WithOperation was applied
func Elapsed(ctx context.Context) (time.Duration, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

// WithGroupID records the group a request targets
func WithGroupID(parent context.Context, id uint32) context.Context {
	return context.WithValue(parent, groupIDKey, id)
}

// GroupID retrieves the targeted group id
func GroupID(ctx context.Context) (uint32, bool) {
	id, ok := ctx.Value(groupIDKey).(uint32)
	return id, ok
}

// NewRequestID creates a new unique request ID
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// Enrich adds a request ID if missing
func Enrich(parent context.Context) context.Context {
	if _, ok := RequestID(parent); ok {
		return parent
	}
	return WithRequestID(parent, "")
}
