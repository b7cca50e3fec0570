package remotesync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

type fakeResolver struct {
	buf localbuffer.Buffer
}

func (f *fakeResolver) Resolve(localbuffer.Ref) (localbuffer.Buffer, error) { return f.buf, nil }

func newFixture(t *testing.T) (*Handler, *registry.ExportedRegistry, *registry.ExportedEntry, *handle.Allocator) {
	t.Helper()

	layout, err := pages.Flatten([]pages.Segment{{Page: 0, Offset: 0, Length: pages.PageSize}})
	require.NoError(t, err)

	engine, err := shareengine.NewMmapEngine(1, filepath.Join(t.TempDir(), "arena.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	shareHandle, err := engine.SharePages(layout)
	require.NoError(t, err)

	provider := localbuffer.NewMemProvider()
	provider.Register(1, layout)
	buf, err := provider.Open(1)
	require.NoError(t, err)

	initialAttach, err := buf.Attach("local")
	require.NoError(t, err)
	initialSgt, err := buf.Map(initialAttach)
	require.NoError(t, err)

	handles := handle.NewAllocator(1)
	h, err := handles.Mint()
	require.NoError(t, err)

	entry := &registry.ExportedEntry{
		Handle:                h,
		PeerVM:                2,
		LocalBuf:              buf.Ref(),
		PageLayout:            layout,
		ShareHandle:           shareHandle,
		Valid:                 true,
		ImporterExportedCount: 1,
	}
	entry.Activity.Attachments.Push(initialAttach)
	entry.Activity.Mappings.Push(initialSgt)

	exported := registry.NewExportedRegistry()
	require.NoError(t, exported.Insert(entry))

	handler := NewHandler(exported, engine, handles, &fakeResolver{buf: buf}, nil)
	return handler, exported, entry, handles
}

func opsToSourceFrame(h handle.Handle, op wire.OpCode) wire.Frame {
	return wire.EncodeOpsToSource(1, h.ID, h.Key, op)
}

func TestAttachMapPushOntoActivityStacks(t *testing.T) {
	handler, _, entry, _ := newFixture(t)

	resp := handler.HandleOpsToSource(opsToSourceFrame(entry.Handle, wire.OpAttach))
	assert.Equal(t, uint32(wire.StatusProcessed), resp.Status)
	assert.Equal(t, 2, entry.Activity.Attachments.Len())

	resp = handler.HandleOpsToSource(opsToSourceFrame(entry.Handle, wire.OpMap))
	assert.Equal(t, uint32(wire.StatusProcessed), resp.Status)
	assert.Equal(t, 2, entry.Activity.Mappings.Len())
}

func TestUnmatchedDetachErrors(t *testing.T) {
	handler, _, entry, _ := newFixture(t)

	// Only the bottom attach exists; a DETACH above it must fail.
	resp := handler.HandleOpsToSource(opsToSourceFrame(entry.Handle, wire.OpDetach))
	assert.Equal(t, uint32(wire.StatusError), resp.Status)
}

func TestReleaseTriggersTeardownWhenInvalidAndLastImporter(t *testing.T) {
	handler, exported, entry, handles := newFixture(t)
	entry.Valid = false

	resp := handler.HandleOpsToSource(opsToSourceFrame(entry.Handle, wire.OpRelease))
	assert.Equal(t, uint32(wire.StatusProcessed), resp.Status)

	_, ok := exported.Find(entry.Handle)
	assert.False(t, ok, "entry must be removed after full teardown")
	assert.Equal(t, 0, handles.InUse())
}

func TestReleaseDoesNotTeardownWhileStillValid(t *testing.T) {
	handler, exported, entry, _ := newFixture(t)

	resp := handler.HandleOpsToSource(opsToSourceFrame(entry.Handle, wire.OpRelease))
	assert.Equal(t, uint32(wire.StatusProcessed), resp.Status)

	_, ok := exported.Find(entry.Handle)
	assert.True(t, ok, "entry must survive release while still valid")
}

func TestUnknownHandleReturnsError(t *testing.T) {
	handler, _, _, _ := newFixture(t)
	resp := handler.HandleOpsToSource(opsToSourceFrame(handle.Handle{ID: 9999}, wire.OpAttach))
	assert.Equal(t, uint32(wire.StatusError), resp.Status)
}
