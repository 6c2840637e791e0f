package logger

import (
	"context"

	tcontext "github.com/tsgd/tsgd/pkg/context"
)

// LoggerContext extends Logger with methods that pull tracing fields out of
// a context.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
}

var _ LoggerContext = (*ComponentLogger)(nil)

// InfoContext logs an info message with context tracing
func (l *ComponentLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.Info(message, append(contextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with context tracing
func (l *ComponentLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.Error(message, append(contextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with context tracing
func (l *ComponentLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.Warn(message, append(contextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with context tracing
func (l *ComponentLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.Debug(message, append(contextFields(ctx), fields...)...)
}

func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if id, ok := tcontext.RequestID(ctx); ok {
		fields = append(fields, WithField("request_id", id))
	}
	if op, ok := tcontext.Operation(ctx); ok {
		fields = append(fields, WithField("op", op))
	}
	if d, ok := tcontext.Elapsed(ctx); ok {
		fields = append(fields, WithField("elapsed_us", d.Microseconds()))
	}
	return fields
}

// WithContext returns a logger that adds the context's tracing fields to
// every entry.
func WithContext(ctx context.Context, l Logger) Logger {
	if ctx == nil {
		return l
	}
	return &contextualLogger{ctx: ctx, logger: l}
}

type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	cl.logger.Info(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	cl.logger.Error(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	cl.logger.Warn(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	cl.logger.Debug(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	cl.logger.Success(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) WithComponent(component string) Logger {
	return &contextualLogger{ctx: cl.ctx, logger: cl.logger.WithComponent(component)}
}
