package service

import (
	"context"
	"fmt"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/directory"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// ExportRemote shares fd's pages with peerVM and announces the resulting
// handle over the ring. Re-exporting the same local buffer to the same peer
// while its prior export is UNEXPORT_PENDING cancels the pending timer and
// hands back the same handle instead of minting a fresh one.
func (s *Service) ExportRemote(ctx context.Context, fd int, peerVM uint32, priv []byte, ownerSession string) (handle.Handle, error) {
	if len(priv) > MaxPrivBytes {
		return handle.Handle{}, bridgeerr.Newf(bridgeerr.BadArg, "priv blob exceeds %d bytes", MaxPrivBytes)
	}

	buf, err := s.provider.Open(fd)
	if err != nil {
		return handle.Handle{}, bridgeerr.Wrap(bridgeerr.BadArg, err, "open local fd")
	}

	if reused, ok := s.reuseExport(buf.Ref(), peerVM); ok {
		if s.metrics != nil {
			s.metrics.RecordExport("reused")
		}
		return reused, nil
	}

	var rollback []func()
	defer func() {
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
	}()

	attach, err := buf.Attach(fmt.Sprintf("peer-vm-%d", peerVM))
	if err != nil {
		return handle.Handle{}, bridgeerr.Wrap(bridgeerr.BadArg, err, "attach local buffer")
	}
	rollback = append(rollback, func() { _ = buf.Detach(attach) })

	layout := buf.Layout()
	shareHandle, err := s.engine.SharePages(layout)
	if err != nil {
		return handle.Handle{}, err
	}
	rollback = append(rollback, func() { _ = s.engine.UnsharePages(shareHandle) })

	hdl, err := s.handles.Mint()
	if err != nil {
		return handle.Handle{}, err
	}
	rollback = append(rollback, func() { s.handles.Retire(hdl) })

	sgt, err := buf.Map(attach)
	if err != nil {
		return handle.Handle{}, err
	}
	rollback = append(rollback, func() { _ = buf.Unmap(sgt) })

	entry := &registry.ExportedEntry{
		Handle:       hdl,
		PeerVM:       peerVM,
		OwnerSession: ownerSession,
		LocalBuf:     buf.Ref(),
		PageLayout:   layout,
		ShareHandle:  shareHandle,
		Valid:        true,
		Priv:         append([]byte(nil), priv...),
	}
	entry.Activity.Attachments.Push(attach)
	entry.Activity.Mappings.Push(sgt)

	if err := s.exported.Insert(entry); err != nil {
		return handle.Handle{}, err
	}
	rollback = append(rollback, func() { s.exported.Remove(hdl) })

	s.registerBuf(buf)
	rollback = append(rollback, func() { s.unregisterBuf(buf.Ref()) })

	if err := s.directory.PublishBootstrap(s.selfVM, peerVM, directory.Bootstrap{Priv: entry.Priv, Tag: hdl.Tag()}); err != nil {
		return handle.Handle{}, bridgeerr.Wrap(bridgeerr.PeerDown, err, "publish export bootstrap")
	}

	f := wire.EncodeExport(s.nextRequestID(), hdl.ID, hdl.Key, layout.Nents, uint32(layout.FirstOffset), uint32(layout.LastLength), uint32(shareHandle))
	if _, err := s.transport.Send(ctx, peerVM, f, false); err != nil {
		return handle.Handle{}, bridgeerr.Wrap(bridgeerr.PeerDown, err, "send EXPORT frame")
	}

	rollback = nil
	if s.metrics != nil {
		s.metrics.RecordExport("fresh")
		s.metrics.SetExportedCount(s.exported.Count())
	}
	logger.Info("service: buffer exported", logger.Handle(hdl.ID, hdl.Key), logger.PeerVM(peerVM))
	return hdl, nil
}

// reuseExport looks for a live export of localBuf to peerVM and, if one
// exists, cancels its pending unexport timer (if any) and hands back its
// handle. ok is false if no live export exists, or if a pending timer had
// already fired before it could be stopped, in which case the caller must
// fall through to a fresh export.
func (s *Service) reuseExport(localBuf localbuffer.Ref, peerVM uint32) (handle.Handle, bool) {
	entry, ok := s.exported.FindByLocalBuf(localBuf, peerVM)
	if !ok {
		return handle.Handle{}, false
	}

	entry.Lock()
	defer entry.Unlock()

	if !entry.Valid {
		return handle.Handle{}, false
	}
	if entry.Unexport.Scheduled {
		if entry.Unexport.Timer == nil || !entry.Unexport.Timer.Stop() {
			return handle.Handle{}, false
		}
		entry.Unexport.Scheduled = false
	}
	return entry.Handle, true
}

// Unexport schedules hdl to be invalidated after delayMs, notifying the
// importer via NOTIFY_UNEXPORT once the timer fires. Idempotent: a second
// call while a timer is already scheduled is a no-op.
func (s *Service) Unexport(hdl handle.Handle, delayMs int) error {
	entry, ok := s.exported.Find(hdl)
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown handle")
	}

	entry.Lock()
	defer entry.Unlock()
	if entry.Unexport.Scheduled {
		return nil
	}
	entry.Unexport.Scheduled = true
	entry.Unexport.Timer = delayedCall(delayMs, func() { s.delayedUnexport(hdl) })
	if s.metrics != nil {
		s.metrics.RecordUnexport()
	}
	return nil
}

func (s *Service) delayedUnexport(hdl handle.Handle) {
	entry, ok := s.exported.Find(hdl)
	if !ok {
		return
	}

	entry.Lock()
	peerVM := entry.PeerVM
	localBuf := entry.LocalBuf
	entry.Valid = false
	entry.Unexport.Scheduled = false
	done := entry.ImporterExportedCount == 0
	entry.Unlock()

	f := wire.EncodeNotifyUnexport(s.nextRequestID(), hdl.ID, hdl.Key)
	if _, err := s.transport.Send(context.Background(), peerVM, f, true); err != nil {
		logger.Warn("service: NOTIFY_UNEXPORT send failed", logger.Handle(hdl.ID, hdl.Key), logger.PeerVM(peerVM), logger.Err(err))
	}

	if !done {
		return
	}
	if err := s.remoteSync.ForceTeardown(hdl); err != nil {
		logger.Warn("service: delayed-unexport teardown failed", logger.Handle(hdl.ID, hdl.Key), logger.Err(err))
		return
	}
	s.unregisterBuf(localBuf)
	if s.metrics != nil {
		s.metrics.SetExportedCount(s.exported.Count())
	}
}

// onSessionClose is the session.Registry close hook: every buffer the
// closed session owns is handed an immediate (delay=0) Unexport, exactly as
// if the caller had issued it itself right before disconnecting.
func (s *Service) onSessionClose(sessionID string) {
	var handles []handle.Handle
	s.exported.ForEach(func(e *registry.ExportedEntry) {
		e.Lock()
		owned := e.OwnerSession == sessionID
		h := e.Handle
		e.Unlock()
		if owned {
			handles = append(handles, h)
		}
	})
	for _, hdl := range handles {
		if err := s.Unexport(hdl, 0); err != nil {
			logger.Warn("service: session-close unexport failed",
				logger.Handle(hdl.ID, hdl.Key), logger.SessionID(sessionID), logger.Err(err))
		}
	}
}

// Shutdown tears down the daemon's exported buffers. A natural (force=false)
// shutdown does nothing: in-flight delayed-unexport timers and importer
// releases drain on their own. force=true performs the emergency sweep the
// original driver's module-unload path does: force-unexport every live
// buffer regardless of importer_exported_count.
func (s *Service) Shutdown(force bool) {
	if !force {
		return
	}

	type pending struct {
		hdl      handle.Handle
		localBuf localbuffer.Ref
	}
	var targets []pending
	s.exported.ForEach(func(e *registry.ExportedEntry) {
		e.Lock()
		targets = append(targets, pending{hdl: e.Handle, localBuf: e.LocalBuf})
		e.Unlock()
	})

	for _, t := range targets {
		if err := s.remoteSync.ForceTeardown(t.hdl); err != nil {
			logger.Warn("service: force teardown during shutdown failed", logger.Handle(t.hdl.ID, t.hdl.Key), logger.Err(err))
			continue
		}
		s.unregisterBuf(t.localBuf)
	}
	if s.metrics != nil {
		s.metrics.SetExportedCount(s.exported.Count())
	}
	if s.transport != nil {
		s.transport.Close()
	}
}
