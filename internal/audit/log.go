package audit

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"bidflow.org/internal/auth"
	"bidflow.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var (
	mu   sync.Mutex
	base *zap.Logger
)

func logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = obs.Logger()
	}
	return base
}

// SetLoggerForTests swaps the audit sink. Only intended for test use.
func SetLoggerForTests(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zfields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		zfields = append(zfields, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		zfields = append(zfields, zap.String("user_id", userID))
	}
	if len(fields) > 0 {
		zfields = append(zfields, zap.Any("fields", fields))
	}
	logger().Info(event, zfields...)
	return nil
}
