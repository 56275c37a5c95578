package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	CallIDKey  contextKey = "call_id"
	RoomIDKey  contextKey = "room_id"
)

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithValues stores call related identifiers in ctx for later logging.
func WithValues(ctx context.Context, userID, callID, roomID string) context.Context {
	if userID != "" {
		ctx = context.WithValue(ctx, UserIDKey, userID)
	}
	if callID != "" {
		ctx = context.WithValue(ctx, CallIDKey, callID)
	}
	if roomID != "" {
		ctx = context.WithValue(ctx, RoomIDKey, roomID)
	}
	return ctx
}

// WithTraceID stores the active trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []contextKey{TraceIDKey, UserIDKey, CallIDKey, RoomIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.Logger {
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogRequest logs an HTTP request with context
func (cl *ContextLogger) LogRequest(ctx context.Context, requestID, method, path string, statusCode int, duration int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", duration),
	)
}

func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx).With(zap.Error(err))
	logger.Error(message, fields...)
}

func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info(message, fields...)
}

func (cl *ContextLogger) LogWarn(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Warn(message, fields...)
}
