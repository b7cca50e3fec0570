package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/handle"
)

func TestExportedRegistryInsertFindRemove(t *testing.T) {
	r := NewExportedRegistry()
	h := handle.Handle{ID: 1, Key: [3]uint32{1, 2, 3}}
	e := &ExportedEntry{Handle: h, PeerVM: 2, LocalBuf: 9}

	require.NoError(t, r.Insert(e))

	got, ok := r.Find(h)
	require.True(t, ok)
	assert.Same(t, e, got)

	r.Remove(h)
	_, ok = r.Find(h)
	assert.False(t, ok)
}

func TestExportedRegistryRejectsDuplicateSlot(t *testing.T) {
	r := NewExportedRegistry()
	h := handle.Handle{ID: 5, Key: [3]uint32{1, 1, 1}}
	require.NoError(t, r.Insert(&ExportedEntry{Handle: h}))

	err := r.Insert(&ExportedEntry{Handle: h})
	assert.Error(t, err)
}

func TestExportedRegistryFindRejectsStaleKey(t *testing.T) {
	r := NewExportedRegistry()
	h := handle.Handle{ID: 7, Key: [3]uint32{1, 1, 1}}
	require.NoError(t, r.Insert(&ExportedEntry{Handle: h}))

	stale := handle.Handle{ID: 7, Key: [3]uint32{9, 9, 9}}
	_, ok := r.Find(stale)
	assert.False(t, ok, "stale key at the same slot must not match")
}

func TestFindByLocalBufDedupesReExport(t *testing.T) {
	r := NewExportedRegistry()
	h := handle.Handle{ID: 1, Key: [3]uint32{1, 1, 1}}
	e := &ExportedEntry{Handle: h, PeerVM: 3, LocalBuf: 42, Valid: true}
	require.NoError(t, r.Insert(e))

	got, ok := r.FindByLocalBuf(42, 3)
	require.True(t, ok)
	assert.Same(t, e, got)

	_, ok = r.FindByLocalBuf(42, 4)
	assert.False(t, ok, "same local buf exported to a different peer is not a dedupe hit")
}

func TestForEachVisitsAllEntries(t *testing.T) {
	r := NewExportedRegistry()
	require.NoError(t, r.Insert(&ExportedEntry{Handle: handle.Handle{ID: 1}}))
	require.NoError(t, r.Insert(&ExportedEntry{Handle: handle.Handle{ID: 2}}))

	seen := 0
	r.ForEach(func(*ExportedEntry) { seen++ })
	assert.Equal(t, 2, seen)
}

func TestImportedRegistryInsertFindRemove(t *testing.T) {
	r := NewImportedRegistry()
	h := handle.Handle{ID: 1, Key: [3]uint32{4, 5, 6}}
	e := &ImportedEntry{Handle: h, Valid: true}

	require.NoError(t, r.Insert(e))
	got, ok := r.Find(h)
	require.True(t, ok)
	assert.Same(t, e, got)

	r.Remove(h)
	_, ok = r.Find(h)
	assert.False(t, ok)
}

func TestActivityStackProtectsBottom(t *testing.T) {
	var s Stack[int]
	s.Push(1) // bottom: the initial attach/mapping created at export time

	_, err := s.PopAboveBottom()
	assert.Error(t, err, "popping with nothing above the bottom must fail")

	s.Push(2)
	v, err := s.PopAboveBottom()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestActivityStackDrainVisitsBottomToo(t *testing.T) {
	var s Stack[int]
	s.Push(1)
	s.Push(2)
	s.Push(3)

	var drained []int
	s.Drain(func(v int) { drained = append(drained, v) })

	assert.Equal(t, []int{3, 2, 1}, drained)
	assert.Equal(t, 0, s.Len())
}
