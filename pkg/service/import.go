package service

import (
	"context"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/shadow"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// ExportFd resolves an imported handle to a usable local shadow buffer: it
// round-trips an EXPORT_FD request to the exporter, then, the first time
// this handle is resolved locally, maps the underlying shared pages and
// builds the shadow. Subsequent calls for the same handle reuse the
// existing shadow and just bump its local importer count.
func (s *Service) ExportFd(ctx context.Context, peerVM uint32, hdl handle.Handle) (*shadow.Buffer, error) {
	entry, ok := s.imported.Find(hdl)
	if !ok {
		return nil, bridgeerr.New(bridgeerr.NotFound, "unknown handle")
	}

	entry.Lock()
	valid := entry.Valid
	entry.Unlock()
	if !valid {
		return nil, bridgeerr.New(bridgeerr.Invalid, "buffer has been unexported")
	}

	f := wire.EncodeExportFd(s.nextRequestID(), hdl.ID, hdl.Key, false)
	resp, err := s.transport.Send(ctx, peerVM, f, true)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.PeerDown, err, "send EXPORT_FD")
	}
	if wire.Status(resp.Status) != wire.StatusProcessed {
		return nil, bridgeerr.New(bridgeerr.Invalid, "peer rejected EXPORT_FD")
	}

	entry.Lock()
	defer entry.Unlock()

	if entry.HasShadowBuf {
		entry.LocalImporters++
		s.mu.Lock()
		sb := s.shadows[hdl]
		s.mu.Unlock()
		return sb, nil
	}

	ref, err := s.engine.MapSharedPages(entry.ShareRef.Top)
	if err != nil {
		s.sendExportFdFailed(peerVM, hdl)
		return nil, err
	}

	s.shadowFds.Register(int(hdl.ID), entry.PageLayout)
	localBuf, err := s.shadowFds.Open(int(hdl.ID))
	if err != nil {
		_ = s.engine.UnmapSharedPages(ref)
		s.sendExportFdFailed(peerVM, hdl)
		return nil, err
	}

	sb := shadow.New(hdl, peerVM, s.transport, s.nextRequestID, localBuf, func() {
		s.onShadowRelease(hdl, ref)
	})

	s.mu.Lock()
	s.shadows[hdl] = sb
	s.mu.Unlock()

	entry.ShareRef = ref
	entry.ShadowBuf = localBuf.Ref()
	entry.HasShadowBuf = true
	entry.LocalImporters = 1

	logger.Info("service: local shadow buffer created", logger.Handle(hdl.ID, hdl.Key), logger.PeerVM(peerVM))
	return sb, nil
}

func (s *Service) sendExportFdFailed(peerVM uint32, hdl handle.Handle) {
	f := wire.EncodeExportFd(s.nextRequestID(), hdl.ID, hdl.Key, true)
	if _, err := s.transport.Send(context.Background(), peerVM, f, false); err != nil {
		logger.Warn("service: EXPORT_FD_FAILED send failed", logger.Handle(hdl.ID, hdl.Key), logger.PeerVM(peerVM), logger.Err(err))
	}
}

// onShadowRelease is the shadow.Buffer's ReleaseHook: it decrements
// local_importers and, once that count hits zero, unmaps the shared pages
// and drops the shadow; if the buffer has also been marked invalid by a
// NOTIFY_UNEXPORT, the imported entry is removed as well.
func (s *Service) onShadowRelease(hdl handle.Handle, ref shareengine.ShareRef) {
	entry, ok := s.imported.Find(hdl)
	if !ok {
		return
	}
	entry.Lock()
	if entry.LocalImporters > 0 {
		entry.LocalImporters--
	}
	last := entry.LocalImporters == 0
	done := last && !entry.Valid
	if last && !done && entry.HasShadowBuf {
		// Still valid: keep the entry so a later ExportFd maps the pages again.
		entry.HasShadowBuf = false
		if err := s.engine.UnmapSharedPages(ref); err != nil {
			logger.Warn("service: unmap shared pages failed", logger.Handle(hdl.ID, hdl.Key), logger.Err(err))
		}
		s.mu.Lock()
		delete(s.shadows, hdl)
		s.mu.Unlock()
	}
	entry.Unlock()

	if !done {
		return
	}
	s.destroyImported(hdl, ref)
}

func (s *Service) destroyImported(hdl handle.Handle, ref shareengine.ShareRef) {
	if err := s.engine.UnmapSharedPages(ref); err != nil {
		logger.Warn("service: unmap shared pages failed", logger.Handle(hdl.ID, hdl.Key), logger.Err(err))
	}
	s.imported.Remove(hdl)
	s.mu.Lock()
	delete(s.shadows, hdl)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetImportedCount(s.imported.Count())
	}
	logger.Info("service: imported buffer fully torn down", logger.Handle(hdl.ID, hdl.Key))
}

// handleExport is the worker-pool-dispatched EXPORT handler: it builds a
// fresh ImportedEntry from the frame's operands and retrieves the
// out-of-band priv/tag bootstrap the exporter published alongside it.
func (s *Service) handleExport(peerVM uint32, f wire.Frame) {
	id, key := wire.DecodeHandle(f)
	hdl := handle.Handle{ID: id, Key: key}

	layout := pages.Layout{
		Nents:       f.Operands[4],
		FirstOffset: uint16(f.Operands[5]),
		LastLength:  uint16(f.Operands[6]),
	}
	shareHandle := shareengine.ShareHandle(f.Operands[7])

	entry := &registry.ImportedEntry{
		Handle:     hdl,
		PageLayout: layout,
		ShareRef:   shareengine.ShareRef{Top: shareHandle},
		Valid:      true,
	}

	boot, ok, err := s.directory.LookupBootstrap(peerVM, s.selfVM)
	if err != nil {
		logger.Warn("service: bootstrap lookup failed for inbound export", logger.Handle(id, key), logger.PeerVM(peerVM), logger.Err(err))
	} else if ok {
		if boot.Tag != hdl.Tag() {
			logger.Warn("service: inbound handle failed integrity check", logger.Handle(id, key), logger.PeerVM(peerVM))
		}
		entry.Priv = boot.Priv
	}

	if err := s.imported.Insert(entry); err != nil {
		logger.Warn("service: inbound export rejected", logger.Handle(id, key), logger.PeerVM(peerVM), logger.Err(err))
		return
	}
	if s.metrics != nil {
		s.metrics.SetImportedCount(s.imported.Count())
	}
	logger.Info("service: buffer imported", logger.Handle(id, key), logger.PeerVM(peerVM), logger.Nents(int(layout.Nents)))
}

func (s *Service) handleExportFd(f wire.Frame) wire.Frame {
	id, key := wire.DecodeHandle(f)
	hdl := handle.Handle{ID: id, Key: key}

	if s.handles.WasRetired(hdl) {
		logger.Warn("service: EXPORT_FD for retired handle rejected", logger.Handle(id, key))
		return errResp(f)
	}

	entry, ok := s.exported.Find(hdl)
	if !ok {
		return errResp(f)
	}
	entry.Lock()
	defer entry.Unlock()
	if !entry.Valid {
		return errResp(f)
	}
	entry.ImporterExportedCount++
	return okResp(f)
}

func (s *Service) handleExportFdFailed(f wire.Frame) wire.Frame {
	id, key := wire.DecodeHandle(f)
	hdl := handle.Handle{ID: id, Key: key}

	entry, ok := s.exported.Find(hdl)
	if !ok {
		return errResp(f)
	}
	entry.Lock()
	defer entry.Unlock()
	if entry.ImporterExportedCount == 0 {
		logger.Warn("service: EXPORT_FD_FAILED with importer_exported_count already zero", logger.Handle(id, key))
		return okResp(f)
	}
	entry.ImporterExportedCount--
	return okResp(f)
}

// handleNotifyUnexport marks the imported entry invalid; if it has no local
// importers left at that moment, it is torn down immediately rather than
// waiting for a release that will never come.
func (s *Service) handleNotifyUnexport(f wire.Frame) wire.Frame {
	id, key := wire.DecodeHandle(f)
	hdl := handle.Handle{ID: id, Key: key}

	entry, ok := s.imported.Find(hdl)
	if !ok {
		return okResp(f)
	}

	entry.Lock()
	entry.Valid = false
	done := entry.LocalImporters == 0 && entry.HasShadowBuf
	noShadowYet := entry.LocalImporters == 0 && !entry.HasShadowBuf
	ref := entry.ShareRef
	entry.Unlock()

	switch {
	case done:
		s.destroyImported(hdl, ref)
	case noShadowYet:
		s.imported.Remove(hdl)
		if s.metrics != nil {
			s.metrics.SetImportedCount(s.imported.Count())
		}
	}
	return okResp(f)
}
