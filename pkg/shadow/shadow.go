// Package shadow implements the importer-side shadow buffer (component H):
// a LocalBuffer that looks native to the device that attaches it, but
// forwards every operation to the exporter as an OPS_TO_SOURCE frame and
// only then performs the purely-local bookkeeping (sgt construction,
// kmap/vmap bookkeeping) needed to hand back a plausible local result.
package shadow

import (
	"context"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// compile-time assertion that Buffer satisfies localbuffer.Buffer
var _ localbuffer.Buffer = (*Buffer)(nil)

// Sender is the transport capability a shadow buffer needs: publish a frame
// to peerVM, optionally waiting for its response.
type Sender interface {
	Send(ctx context.Context, peerVM uint32, f wire.Frame, wait bool) (wire.Frame, error)
}

// RequestIDFunc mints the next monotonic request id for outgoing frames.
type RequestIDFunc func() uint32

// ReleaseHook runs after every RELEASE forward, whether or not the send
// succeeded, letting the caller decrement local_importers and decide whether to unmap the
// underlying share and drop the shadow — the only op whose registry-level
// side effect crosses package boundaries; every other op's local effect is
// self-contained in Buffer.
type ReleaseHook func()

// Buffer is the importer-side shadow over one imported buffer. It satisfies
// localbuffer.Buffer so it can be handed to the same device-facing code path
// a genuinely local buffer would use.
type Buffer struct {
	h        handle.Handle
	peerVM   uint32
	sender   Sender
	nextID   RequestIDFunc
	local    localbuffer.Buffer
	onRelease ReleaseHook
}

// New constructs a shadow buffer for the imported handle h, forwarding ops
// to peerVM over sender and delegating local sgt/attach bookkeeping to local
// (typically a localbuffer.MemProvider-backed fake sized from the imported
// page layout).
func New(h handle.Handle, peerVM uint32, sender Sender, nextID RequestIDFunc, local localbuffer.Buffer, onRelease ReleaseHook) *Buffer {
	return &Buffer{h: h, peerVM: peerVM, sender: sender, nextID: nextID, local: local, onRelease: onRelease}
}

func (b *Buffer) Ref() localbuffer.Ref           { return b.local.Ref() }
func (b *Buffer) Layout() pages.Layout           { return b.local.Layout() }

func (b *Buffer) forward(ctx context.Context, op wire.OpCode, wait bool) (wire.Frame, error) {
	f := wire.EncodeOpsToSource(b.nextID(), b.h.ID, b.h.Key, op)
	resp, err := b.sender.Send(ctx, b.peerVM, f, wait)
	if err != nil {
		logger.Warn("shadow: forward failed", logger.Handle(b.h.ID, b.h.Key), logger.OpCode(op.String()), logger.Err(err))
		return wire.Frame{}, err
	}
	return resp, nil
}

func (b *Buffer) Attach(device string) (localbuffer.AttachRef, error) {
	if _, err := b.forward(context.Background(), wire.OpAttach, false); err != nil {
		return 0, err
	}
	return b.local.Attach(device)
}

func (b *Buffer) Detach(a localbuffer.AttachRef) error {
	if _, err := b.forward(context.Background(), wire.OpDetach, false); err != nil {
		return err
	}
	return b.local.Detach(a)
}

func (b *Buffer) Map(a localbuffer.AttachRef) (localbuffer.SgtRef, error) {
	if _, err := b.forward(context.Background(), wire.OpMap, false); err != nil {
		return 0, err
	}
	return b.local.Map(a)
}

func (b *Buffer) Unmap(s localbuffer.SgtRef) error {
	if _, err := b.forward(context.Background(), wire.OpUnmap, false); err != nil {
		return err
	}
	return b.local.Unmap(s)
}

func (b *Buffer) BeginCPUAccess() error {
	_, err := b.forward(context.Background(), wire.OpBeginCPUAccess, false)
	return err
}

func (b *Buffer) EndCPUAccess() error {
	_, err := b.forward(context.Background(), wire.OpEndCPUAccess, false)
	return err
}

// Kmap/Kunmap/Vmap/Vunmap have no real local effect: the shadow has no
// kernel-virtual or vmap mapping of its own, it just forwards and reports
// success with a null address.
func (b *Buffer) Kmap() (uintptr, error) {
	_, err := b.forward(context.Background(), wire.OpKmap, false)
	return 0, err
}

func (b *Buffer) Kunmap(uintptr) error {
	_, err := b.forward(context.Background(), wire.OpKunmap, false)
	return err
}

func (b *Buffer) Vmap() (uintptr, error) {
	_, err := b.forward(context.Background(), wire.OpVmap, false)
	return 0, err
}

func (b *Buffer) Vunmap(uintptr) error {
	_, err := b.forward(context.Background(), wire.OpVunmap, false)
	return err
}

// Release forwards RELEASE fire-and-forget, like every other op, and
// unconditionally invokes onRelease so the caller decrements local_importers
// and tears down the shadow and underlying share if this was the last local
// importer. Local teardown never waits on the round trip: a PeerDown or
// Timeout sending RELEASE must not leak the shadow or its shared mapping.
func (b *Buffer) Release() error {
	_, err := b.forward(context.Background(), wire.OpRelease, false)
	if b.onRelease != nil {
		b.onRelease()
	}
	return err
}

// Layout is not forwarded; mmap is unsupported for shadow buffers
// (decided: returns bridgeerr.BadArg rather
// than silently no-opping, so a caller relying on it fails loudly).
func (b *Buffer) Mmap() error {
	logger.Warn("shadow: mmap is not supported on an imported shadow buffer", logger.Handle(b.h.ID, b.h.Key))
	return bridgeerr.New(bridgeerr.BadArg, "mmap is not supported on an imported shadow buffer")
}
