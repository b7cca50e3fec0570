package shareengine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/pages"
)

func newTestEngine(t *testing.T) *MmapEngine {
	t.Helper()
	e, err := NewMmapEngine(1, filepath.Join(t.TempDir(), "arena.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestShareAndMapRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	layout, err := pages.Flatten([]pages.Segment{{Page: 0, Offset: 0, Length: 4 * pages.PageSize}})
	require.NoError(t, err)

	h, err := e.SharePages(layout)
	require.NoError(t, err)

	ref, err := e.MapSharedPages(h)
	require.NoError(t, err)
	assert.Len(t, ref.Pages(), 4)

	require.NoError(t, e.UnmapSharedPages(ref))
	require.NoError(t, e.UnsharePages(h))
}

func TestUnshareFailsWhileStillMapped(t *testing.T) {
	e := newTestEngine(t)
	layout, err := pages.Flatten([]pages.Segment{{Page: 0, Offset: 0, Length: pages.PageSize}})
	require.NoError(t, err)

	h, err := e.SharePages(layout)
	require.NoError(t, err)

	ref, err := e.MapSharedPages(h)
	require.NoError(t, err)

	err = e.UnsharePages(h)
	require.Error(t, err)

	require.NoError(t, e.UnmapSharedPages(ref))
	require.NoError(t, e.UnsharePages(h))
}

func TestMapUnknownHandle(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.MapSharedPages(999)
	assert.Error(t, err)
}
