package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	PeerVM    uint32    // remote VM id a ring/control op is addressed to
	Handle    string    // buffer handle formatted as id:key
	SessionID string    // control-plane session identifier
	ClientIP  string    // REST client IP address
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		PeerVM:    lc.PeerVM,
		Handle:    lc.Handle,
		SessionID: lc.SessionID,
		ClientIP:  lc.ClientIP,
		StartTime: lc.StartTime,
	}
}

// WithPeerVM returns a copy with the peer VM id set
func (lc *LogContext) WithPeerVM(vm uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PeerVM = vm
	}
	return clone
}

// WithHandle returns a copy with the handle set
func (lc *LogContext) WithHandle(h string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Handle = h
	}
	return clone
}

// WithSession returns a copy with the session id set
func (lc *LogContext) WithSession(sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = sessionID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
