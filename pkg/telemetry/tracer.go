package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for the cross-VM DMA-buffer sharing control and
// transport surfaces.
const (
	AttrSelfVM  = "dmabridge.self_vm"
	AttrPeerVM  = "dmabridge.peer_vm"
	AttrHandle  = "dmabridge.handle"
	AttrCommand = "dmabridge.command"
	AttrOp      = "dmabridge.op"
	AttrItem    = "dmabridge.query_item"
	AttrOutcome = "dmabridge.outcome"
	AttrRefs    = "dmabridge.refs"
)

// Span names for the control/transport/remote-sync surfaces.
const (
	SpanExportRemote  = "control.ExportRemote"
	SpanUnexport      = "control.Unexport"
	SpanExportFd      = "control.ExportFd"
	SpanQuery         = "control.Query"
	SpanTransportSend = "transport.Send"
	SpanOpReplay      = "remotesync.replay"
	SpanTeardown      = "remotesync.teardown"
)

// SelfVM returns an attribute for the local VM id.
func SelfVM(vm uint32) attribute.KeyValue {
	return attribute.Int64(AttrSelfVM, int64(vm))
}

// PeerVM returns an attribute for the remote VM id.
func PeerVM(vm uint32) attribute.KeyValue {
	return attribute.Int64(AttrPeerVM, int64(vm))
}

// HandleAttr returns an attribute for a dma-buf handle, formatted as
// lowercase hex without zero padding.
func HandleAttr(hdl uint64) attribute.KeyValue {
	return attribute.String(AttrHandle, strconv.FormatUint(hdl, 16))
}

// CommandAttr returns an attribute for a wire command name.
func CommandAttr(command string) attribute.KeyValue {
	return attribute.String(AttrCommand, command)
}

// OpAttr returns an attribute for a replayed dma-buf op name.
func OpAttr(op string) attribute.KeyValue {
	return attribute.String(AttrOp, op)
}

// QueryItemAttr returns an attribute for a Query item name.
func QueryItemAttr(item string) attribute.KeyValue {
	return attribute.String(AttrItem, item)
}

// Outcome returns an attribute describing how an operation resolved
// (e.g. "fresh", "reused", "error").
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// Refs returns an attribute for a buffer's current reference count.
func Refs(n int) attribute.KeyValue {
	return attribute.Int(AttrRefs, n)
}

// StartControlSpan starts a span for a control-surface verb (ExportRemote,
// Unexport, ExportFd, Query), tagging it with the handle under operation.
func StartControlSpan(ctx context.Context, name string, hdl uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{HandleAttr(hdl)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartTransportSpan starts a span around a synchronous round trip to a peer.
func StartTransportSpan(ctx context.Context, peerVM uint32, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{PeerVM(peerVM), CommandAttr(command)}, attrs...)
	return StartSpan(ctx, SpanTransportSend, trace.WithAttributes(allAttrs...))
}

// StartOpReplaySpan starts a span for replaying a single OPS_TO_SOURCE op
// against a local buffer.
func StartOpReplaySpan(ctx context.Context, hdl uint64, op string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanOpReplay, trace.WithAttributes(HandleAttr(hdl), OpAttr(op)))
}
