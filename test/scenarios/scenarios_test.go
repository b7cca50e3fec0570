// Package scenarios runs the cross-VM sharing walkthroughs end to end
// against two in-process Service instances, the same two-Service harness
// pkg/service's own tests use, but reached only through Service's public
// control-surface verbs (ExportRemote/ExportFd/Unexport/Query/Shutdown) and
// the shadow.Buffer ExportFd returns — no registry internals, exactly what a
// client process on either side of the ring actually has available.
package scenarios

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/directory"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/service"
	"github.com/hyperbridge/dmabridge/pkg/session"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/transport"
)

// pair wires up two Services (vm 1 = exporter, vm 2 = importer) over an
// in-memory Splice'd transport, using the two-phase construction
// cmd/hyperdmabufd performs for its one Service: build each Service, build
// each Transport with the Service as Dispatcher, AttachTransport; the test
// then Splices their Links.
type pair struct {
	exporter *service.Service
	importer *service.Service

	exporterProvider *localbuffer.MemProvider
	importerProvider *localbuffer.MemProvider
	exporterSessions *session.Registry
}

func newPair(t *testing.T) *pair {
	t.Helper()

	dir := directory.NewMemoryDirectory()

	// A single Engine instance stands in for the hypervisor's grant table,
	// shared across both Service instances exactly as a real deployment's
	// one process-wide instance resolves both ends' share handles.
	sharedEngine, err := shareengine.NewMmapEngine(1, filepath.Join(t.TempDir(), "arena.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sharedEngine.Close() })

	exporterProvider := localbuffer.NewMemProvider()
	importerProvider := localbuffer.NewMemProvider()

	exporterSessions := session.NewRegistry()

	exporter := service.New(service.Deps{
		SelfVM:    1,
		Handles:   handle.NewAllocator(1),
		Engine:    sharedEngine,
		Exported:  registry.NewExportedRegistry(),
		Imported:  registry.NewImportedRegistry(),
		Provider:  exporterProvider,
		Directory: dir,
		Sessions:  exporterSessions,
	})
	importer := service.New(service.Deps{
		SelfVM:    2,
		Handles:   handle.NewAllocator(2),
		Engine:    sharedEngine,
		Exported:  registry.NewExportedRegistry(),
		Imported:  registry.NewImportedRegistry(),
		Provider:  importerProvider,
		Directory: dir,
		Sessions:  session.NewRegistry(),
	})

	exporterTp := transport.New(1, exporter, time.Second, 2, nil)
	importerTp := transport.New(2, importer, time.Second, 2, nil)
	exporter.AttachTransport(exporterTp)
	importer.AttachTransport(importerTp)

	exporterLink := exporterTp.AddPeer(2)
	importerLink := importerTp.AddPeer(1)
	transport.Splice(exporterLink, importerLink)

	t.Cleanup(func() { exporterTp.Close(); importerTp.Close() })

	return &pair{
		exporter:         exporter,
		importer:         importer,
		exporterProvider: exporterProvider,
		importerProvider: importerProvider,
		exporterSessions: exporterSessions,
	}
}

// registerLocalBuf registers an fd with a single-page layout, the smallest
// real allocation the page extractor can describe.
func registerLocalBuf(t *testing.T, p *localbuffer.MemProvider, fd int) {
	t.Helper()
	registerLocalBufPages(t, p, fd, 1)
}

func registerLocalBufPages(t *testing.T, p *localbuffer.MemProvider, fd, npages int) {
	t.Helper()
	segs := make([]pages.Segment, npages)
	for i := range segs {
		segs[i] = pages.Segment{Page: i, Offset: 0, Length: pages.PageSize}
	}
	layout, err := pages.Flatten(segs)
	require.NoError(t, err)
	p.Register(fd, layout)
}

// waitFor polls cond until it is true or a second elapses; export/unexport
// notifications cross the ISR loop and worker pool asynchronously, so
// registry state doesn't necessarily settle the instant a verb call returns.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

// S1: exporter shares a 4-page buffer with a private payload; the importer
// observes it as an imported handle, and the priv blob round-trips intact.
func TestS1ExportAndImportRoundTrip(t *testing.T) {
	p := newPair(t)
	registerLocalBufPages(t, p.exporterProvider, 1, 4)

	priv := []byte{0x01, 0x02, 0x03, 0x04}
	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, priv, "sess-1")
	require.NoError(t, err)

	waitFor(t, func() bool {
		typ, err := p.importer.Query(hdl, service.QueryType)
		return err == nil && typ == "imported"
	})

	exporterType, err := p.exporter.Query(hdl, service.QueryType)
	require.NoError(t, err)
	assert.Equal(t, "exported", exporterType)

	exportedSize, err := p.exporter.Query(hdl, service.QueryPrivSize)
	require.NoError(t, err)
	assert.Equal(t, len(priv), exportedSize)

	importedPriv, err := p.importer.Query(hdl, service.QueryPrivCopy)
	require.NoError(t, err)
	assert.Equal(t, priv, importedPriv)
}

// S2: re-exporting the same fd to the same peer while still live returns
// the same handle rather than minting a second one.
func TestS2RepeatedExportReturnsSameHandle(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	first, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)

	second, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// S3: a delayed Unexport scheduled for later is cancelled by a re-export of
// the same fd/peer pair arriving before the delay elapses.
func TestS3ReExportCancelsPendingDelayedUnexport(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)

	require.NoError(t, p.exporter.Unexport(hdl, 500))

	scheduled, err := p.exporter.Query(hdl, service.QueryDelayedUnexported)
	require.NoError(t, err)
	assert.Equal(t, true, scheduled)

	time.Sleep(200 * time.Millisecond)

	again, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, hdl, again)

	scheduled, err = p.exporter.Query(hdl, service.QueryDelayedUnexported)
	require.NoError(t, err)
	assert.Equal(t, false, scheduled)

	// Give the cancelled timer a window it would have fired in; the handle
	// must still be live well past the original 500ms delay.
	time.Sleep(500 * time.Millisecond)
	_, err = p.exporter.Query(hdl, service.QueryType)
	assert.NoError(t, err)
}

// S4: the importer opens a shadow fd and replays a full attach/map/unmap/
// detach cycle through it; every op must round-trip to the exporter and
// back without error, and the handle must remain live and reusable
// afterward (a second cycle through the same shadow buffer succeeds too).
func TestS4AttachMapUnmapDetachCycle(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	waitFor(t, func() bool {
		_, err := p.importer.Query(hdl, service.QueryType)
		return err == nil
	})

	sb, err := p.importer.ExportFd(context.Background(), 1, hdl)
	require.NoError(t, err)
	require.NotNil(t, sb)

	runCycle := func() {
		a, err := sb.Attach("gpu0")
		require.NoError(t, err)
		s, err := sb.Map(a)
		require.NoError(t, err)
		require.NoError(t, sb.Unmap(s))
		require.NoError(t, sb.Detach(a))
	}

	runCycle()
	runCycle()

	// The exported entry is still alive and has no delayed unexport
	// scheduled; the cycle above left it exactly as it found it.
	delayed, err := p.exporter.Query(hdl, service.QueryDelayedUnexported)
	require.NoError(t, err)
	assert.Equal(t, false, delayed)
}

// S5: the exporter tears down while the importer still holds a shadow fd
// from an earlier ExportFd. A fresh ExportFd against the now-invalid handle
// must fail, the existing shadow buffer must keep working until released,
// and releasing it must let the handle fully disappear on both sides.
func TestS5UnexportWhileShadowFdHeld(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	waitFor(t, func() bool {
		_, err := p.importer.Query(hdl, service.QueryType)
		return err == nil
	})

	sb, err := p.importer.ExportFd(context.Background(), 1, hdl)
	require.NoError(t, err)

	require.NoError(t, p.exporter.Unexport(hdl, 0))

	waitFor(t, func() bool {
		imported, err := p.importer.Query(hdl, service.QueryUnexported)
		return err == nil && imported == true
	})

	_, err = p.importer.ExportFd(context.Background(), 1, hdl)
	assert.Equal(t, bridgeerr.Invalid, bridgeerr.CodeOf(err))

	// The shadow fd opened before teardown still works.
	a, err := sb.Attach("gpu0")
	require.NoError(t, err)
	require.NoError(t, sb.Detach(a))

	require.NoError(t, sb.Release())

	waitFor(t, func() bool {
		_, err := p.exporter.Query(hdl, service.QueryType)
		return err != nil
	})
	_, err = p.importer.Query(hdl, service.QueryType)
	assert.Equal(t, bridgeerr.NotFound, bridgeerr.CodeOf(err))
}

// S6: the handle allocator's slot space is finite per origin VM; exporting
// 1000 distinct local buffers succeeds and the 1001st is rejected Exhausted.
func TestS6HandleAllocatorExhaustion(t *testing.T) {
	p := newPair(t)

	const maxSlots = handle.MaxSlots

	for i := 0; i < maxSlots; i++ {
		fd := i + 1
		registerLocalBuf(t, p.exporterProvider, fd)
		_, err := p.exporter.ExportRemote(context.Background(), fd, 2, nil, "sess-1")
		require.NoErrorf(t, err, "export %d of %d should have succeeded", i+1, maxSlots)
	}

	registerLocalBuf(t, p.exporterProvider, maxSlots+1)
	_, err := p.exporter.ExportRemote(context.Background(), maxSlots+1, 2, nil, "sess-1")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.Exhausted, bridgeerr.CodeOf(err))
}
