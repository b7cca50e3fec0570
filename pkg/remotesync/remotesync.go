// Package remotesync implements the exporter-side remote-sync handler
// (component I): it replays OPS_TO_SOURCE frames against the real local
// buffer and maintains the per-handle activity stacks the Exported Registry
// holds, enforcing that every push op has exactly one matching pop.
package remotesync

import (
	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// BufferResolver resolves an ExportedEntry's local buffer reference back to
// the live localbuffer.Buffer the remote-sync handler replays ops against.
type BufferResolver interface {
	Resolve(ref localbuffer.Ref) (localbuffer.Buffer, error)
}

// Handler processes OPS_TO_SOURCE frames for every buffer this VM exports.
type Handler struct {
	exported *registry.ExportedRegistry
	engine   shareengine.Engine
	handles  *handle.Allocator
	bufs     BufferResolver
	metrics  Metrics
}

// NewHandler constructs a remote-sync handler over the given exported
// registry, share engine, and handle allocator. metrics may be nil.
func NewHandler(exported *registry.ExportedRegistry, engine shareengine.Engine, handles *handle.Allocator, bufs BufferResolver, metrics Metrics) *Handler {
	return &Handler{exported: exported, engine: engine, handles: handles, bufs: bufs, metrics: metrics}
}

// HandleOpsToSource processes one OPS_TO_SOURCE frame and returns its
// response frame (PROCESSED or ERROR).
func (h *Handler) HandleOpsToSource(f wire.Frame) wire.Frame {
	id, key := wire.DecodeHandle(f)
	hdl := handle.Handle{ID: id, Key: key}

	entry, ok := h.exported.Find(hdl)
	if !ok {
		return errorResponse(f)
	}

	entry.Lock()
	defer entry.Unlock()

	buf, err := h.bufs.Resolve(entry.LocalBuf)
	if err != nil {
		logger.Warn("remotesync: resolve local buffer failed", logger.Handle(id, key), logger.Err(err))
		return errorResponse(f)
	}

	op := wire.OpCode(f.Operands[4])
	err = h.replay(entry, buf, op)
	if h.metrics != nil {
		h.metrics.RecordOpReplay(op.String(), err)
	}
	if err != nil {
		logger.Warn("remotesync: op replay failed", logger.Handle(id, key), logger.OpCode(op.String()), logger.Err(err))
		return errorResponse(f)
	}

	return okResponse(f)
}

func (h *Handler) replay(entry *registry.ExportedEntry, buf localbuffer.Buffer, op wire.OpCode) error {
	switch op {
	case wire.OpAttach:
		a, err := buf.Attach("remote")
		if err != nil {
			return err
		}
		entry.Activity.Attachments.Push(a)

	case wire.OpDetach:
		a, err := entry.Activity.Attachments.PopAboveBottom()
		if err != nil {
			return err
		}
		return buf.Detach(a)

	case wire.OpMap:
		a, ok := entry.Activity.Attachments.Top()
		if !ok {
			return bridgeerr.New(bridgeerr.Invalid, "map with no outstanding attachment")
		}
		s, err := buf.Map(a)
		if err != nil {
			return err
		}
		entry.Activity.Mappings.Push(s)

	case wire.OpUnmap:
		s, err := entry.Activity.Mappings.PopAboveBottom()
		if err != nil {
			return err
		}
		return buf.Unmap(s)

	case wire.OpBeginCPUAccess:
		return buf.BeginCPUAccess()

	case wire.OpEndCPUAccess:
		return buf.EndCPUAccess()

	case wire.OpKmap, wire.OpKmapAtomic:
		addr, err := buf.Kmap()
		if err != nil {
			return err
		}
		entry.Activity.Kmaps.Push(addr)

	case wire.OpKunmap, wire.OpKunmapAtomic:
		addr, err := entry.Activity.Kmaps.PopAboveBottom()
		if err != nil {
			return err
		}
		return buf.Kunmap(addr)

	case wire.OpVmap:
		addr, err := buf.Vmap()
		if err != nil {
			return err
		}
		entry.Activity.Vmaps.Push(addr)

	case wire.OpVunmap:
		addr, err := entry.Activity.Vmaps.PopAboveBottom()
		if err != nil {
			return err
		}
		return buf.Vunmap(addr)

	case wire.OpRelease:
		return h.replayRelease(entry, buf)

	default:
		return bridgeerr.Newf(bridgeerr.BadArg, "unsupported shadow op %s", op)
	}
	return nil
}

// replayRelease is special: it decrements
// importer_exported_count, and when that count reaches zero while the
// buffer is already invalid and has no pending unexport timer, performs the
// same full teardown delayed_unexport would.
func (h *Handler) replayRelease(entry *registry.ExportedEntry, buf localbuffer.Buffer) error {
	if entry.ImporterExportedCount == 0 {
		return bridgeerr.New(bridgeerr.Invalid, "release with importer_exported_count already zero")
	}
	entry.ImporterExportedCount--

	if entry.ImporterExportedCount == 0 && !entry.Valid && !entry.Unexport.Scheduled {
		h.teardown(entry, buf)
	}
	return nil
}

// teardown drains the activity stacks in reverse, unshares the pages, and
// releases the local buffer, then removes the registry entry and retires
// the handle. Called with entry already locked.
func (h *Handler) teardown(entry *registry.ExportedEntry, buf localbuffer.Buffer) {
	entry.Activity.Mappings.Drain(func(s localbuffer.SgtRef) { _ = buf.Unmap(s) })
	entry.Activity.Attachments.Drain(func(a localbuffer.AttachRef) { _ = buf.Detach(a) })
	entry.Activity.Kmaps.Drain(func(addr uintptr) { _ = buf.Kunmap(addr) })
	entry.Activity.Vmaps.Drain(func(addr uintptr) { _ = buf.Vunmap(addr) })

	if err := h.engine.UnsharePages(entry.ShareHandle); err != nil {
		logger.Warn("remotesync: unshare failed during teardown", logger.Handle(entry.Handle.ID, entry.Handle.Key), logger.Err(err))
	}
	if err := buf.Release(); err != nil {
		logger.Warn("remotesync: local buffer release failed during teardown", logger.Handle(entry.Handle.ID, entry.Handle.Key), logger.Err(err))
	}

	h.exported.Remove(entry.Handle)
	h.handles.Retire(entry.Handle)

	if h.metrics != nil {
		h.metrics.RecordTeardown()
	}
	logger.Info("remotesync: exported buffer fully torn down", logger.Handle(entry.Handle.ID, entry.Handle.Key))
}

// ForceTeardown runs the same full teardown replayRelease performs when a
// RELEASE drops importer_exported_count to zero, used directly by the
// control surface's delayed-unexport path once importer_exported_count is
// already zero, and by its Shutdown(force) sweep.
func (h *Handler) ForceTeardown(hdl handle.Handle) error {
	entry, ok := h.exported.Find(hdl)
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown handle")
	}

	entry.Lock()
	defer entry.Unlock()

	buf, err := h.bufs.Resolve(entry.LocalBuf)
	if err != nil {
		return err
	}
	h.teardown(entry, buf)
	return nil
}

func errorResponse(f wire.Frame) wire.Frame {
	r := f
	r.Status = uint32(wire.StatusError)
	return r
}

func okResponse(f wire.Frame) wire.Frame {
	r := f
	r.Status = uint32(wire.StatusProcessed)
	return r
}
