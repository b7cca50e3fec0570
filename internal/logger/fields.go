package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Domain identity
	// ========================================================================
	KeyHandle   = "handle"    // buffer handle, formatted id:key
	KeyPeerVM   = "peer_vm"   // remote VM identifier
	KeySelfVM   = "self_vm"   // local VM identifier
	KeyVerb     = "verb"      // control verb name: ExportRemote, ExportFd, ...
	KeyCommand  = "command"   // wire command name: EXPORT, OPS_TO_SOURCE, ...
	KeyOpCode   = "op_code"   // shadow op code forwarded in OPS_TO_SOURCE
	KeyStatus   = "status"    // response status code
	KeySessionID = "session_id" // control-plane session identifier

	// ========================================================================
	// Transport
	// ========================================================================
	KeyRequestID   = "request_id"   // ring request id
	KeyRingSlot    = "ring_slot"    // producer/consumer ring slot index
	KeyShareHandle = "share_handle" // top-level grant ref returned by the share engine
	KeyNents       = "nents"        // page count in a buffer's layout

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySize       = "size"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyClientIP   = "client_ip"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Handle returns a slog.Attr for a buffer handle
func Handle(id uint32, key [3]uint32) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%08x:%08x%08x%08x", id, key[0], key[1], key[2]))
}

// HandleStr returns a slog.Attr for a buffer handle already formatted
func HandleStr(h string) slog.Attr {
	return slog.String(KeyHandle, h)
}

// PeerVM returns a slog.Attr for the remote VM id
func PeerVM(vm uint32) slog.Attr {
	return slog.Any(KeyPeerVM, vm)
}

// SelfVM returns a slog.Attr for the local VM id
func SelfVM(vm uint32) slog.Attr {
	return slog.Any(KeySelfVM, vm)
}

// Verb returns a slog.Attr for a control verb name
func Verb(name string) slog.Attr {
	return slog.String(KeyVerb, name)
}

// Command returns a slog.Attr for a wire command name
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// OpCode returns a slog.Attr for a shadow op code
func OpCode(name string) slog.Attr {
	return slog.String(KeyOpCode, name)
}

// Status returns a slog.Attr for a response status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// SessionID returns a slog.Attr for a control-plane session id
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// RequestID returns a slog.Attr for a ring request id
func RequestID(id uint32) slog.Attr {
	return slog.Any(KeyRequestID, id)
}

// RingSlot returns a slog.Attr for a ring slot index
func RingSlot(slot uint32) slog.Attr {
	return slog.Any(KeyRingSlot, slot)
}

// ShareHandle returns a slog.Attr for a top-level grant ref
func ShareHandle(ref uint32) slog.Attr {
	return slog.Any(KeyShareHandle, ref)
}

// Nents returns a slog.Attr for a page count
func Nents(n int) slog.Attr {
	return slog.Int(KeyNents, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Size returns a slog.Attr for a byte size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// ClientIP returns a slog.Attr for a REST client IP
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}
