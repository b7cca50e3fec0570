package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/directory"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/session"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/transport"
)

// pair wires two Services (vm 1 = exporter, vm 2 = importer) together over
// an in-memory Splice'd transport, using the two-phase construction
// cmd/hyperdmabufd performs for its one Service: build each Service, build
// each Transport with the Service as Dispatcher, AttachTransport; the test
// then Splices their Links.
type pair struct {
	exporter *Service
	importer *Service

	exporterProvider *localbuffer.MemProvider
	exporterSessions *session.Registry
	dir              *directory.MemoryDirectory
}

func newPair(t *testing.T) *pair {
	t.Helper()

	dir := directory.NewMemoryDirectory()

	// One Engine instance stands in for the hypervisor's grant table, a
	// resource genuinely shared across VMs; two Service instances in one
	// process must share it to resolve each other's share handles, exactly
	// as shareengine's Engine doc says a real deployment's single
	// process-wide instance does.
	sharedEngine, err := shareengine.NewMmapEngine(1, filepath.Join(t.TempDir(), "arena.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sharedEngine.Close() })

	exporterProvider := localbuffer.NewMemProvider()

	exporterSessions := session.NewRegistry()
	importerSessions := session.NewRegistry()

	exporter := New(Deps{
		SelfVM:    1,
		Handles:   handle.NewAllocator(1),
		Engine:    sharedEngine,
		Exported:  registry.NewExportedRegistry(),
		Imported:  registry.NewImportedRegistry(),
		Provider:  exporterProvider,
		Directory: dir,
		Sessions:  exporterSessions,
	})
	importer := New(Deps{
		SelfVM:    2,
		Handles:   handle.NewAllocator(2),
		Engine:    sharedEngine,
		Exported:  registry.NewExportedRegistry(),
		Imported:  registry.NewImportedRegistry(),
		Provider:  localbuffer.NewMemProvider(),
		Directory: dir,
		Sessions:  importerSessions,
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
		exporterSessions: exporterSessions,
		dir:              dir,
	}
}

func registerLocalBuf(t *testing.T, p *localbuffer.MemProvider, fd int) pages.Layout {
	t.Helper()
	layout, err := pages.Flatten([]pages.Segment{{Page: 0, Offset: 0, Length: pages.PageSize}})
	require.NoError(t, err)
	p.Register(fd, layout)
	return layout
}

// waitFor polls cond until it is true or the deadline elapses; the ring
// handshake here crosses goroutines (ISR loop, worker pool), so a handle
// freshly EXPORTed may not be visible in the importer's registry the
// instant ExportRemote returns.
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

func TestExportRemoteAndImportRoundTrip(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, []byte("hello"), "sess-1")
	require.NoError(t, err)

	var imported *registry.ImportedEntry
	waitFor(t, func() bool {
		var ok bool
		imported, ok = p.importer.imported.Find(hdl)
		return ok
	})
	assert.Equal(t, hdl, imported.Handle)

	sb, err := p.importer.ExportFd(context.Background(), 1, hdl)
	require.NoError(t, err)
	require.NotNil(t, sb)

	privSize, err := p.exporter.Query(hdl, QueryPrivSize)
	require.NoError(t, err)
	assert.Equal(t, len("hello"), privSize)

	privCopy, err := p.importer.Query(hdl, QueryPrivCopy)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), privCopy)
}

func TestExportRemoteReuseCancelsPendingUnexport(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)

	require.NoError(t, p.exporter.Unexport(hdl, 60_000))

	again, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, hdl, again)

	scheduled, err := p.exporter.Query(hdl, QueryDelayedUnexported)
	require.NoError(t, err)
	assert.False(t, scheduled.(bool))
}

func TestUnexportInvalidatesAndNotifiesImporter(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	waitFor(t, func() bool { _, ok := p.importer.imported.Find(hdl); return ok })

	require.NoError(t, p.exporter.Unexport(hdl, 1))

	waitFor(t, func() bool {
		entry, ok := p.importer.imported.Find(hdl)
		return !ok || func() bool { entry.Lock(); defer entry.Unlock(); return !entry.Valid }()
	})
}

func TestQueryUnknownHandleIsNotFound(t *testing.T) {
	p := newPair(t)
	_, err := p.exporter.Query(handle.Handle{ID: 999}, QueryType)
	assert.Error(t, err)
}

func TestSessionCloseSweepsOwnedExports(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	p.exporterSessions.Open("sess-close-me")

	hdl, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-close-me")
	require.NoError(t, err)

	p.exporterSessions.Close("sess-close-me")

	// No importer ever called ExportFd, so importer_exported_count is
	// already zero: the session-close Unexport runs straight through to a
	// full teardown rather than leaving the entry UNEXPORT_PENDING.
	waitFor(t, func() bool {
		_, err := p.exporter.Query(hdl, QueryType)
		return err != nil
	})
}

func TestShutdownForceTearsDownExports(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	_, err := p.exporter.ExportRemote(context.Background(), 1, 2, nil, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 1, p.exporter.exported.Count())

	p.exporter.Shutdown(true)
	assert.Equal(t, 0, p.exporter.exported.Count())
}

func TestExportRemoteRejectsOversizedPriv(t *testing.T) {
	p := newPair(t)
	registerLocalBuf(t, p.exporterProvider, 1)

	_, err := p.exporter.ExportRemote(context.Background(), 1, 2, make([]byte, MaxPrivBytes+1), "sess-1")
	assert.Error(t, err)
}
