// Package registry tracks the two buffer-lifecycle tables: the Exported
// Registry (one entry per buffer this VM has handed to a peer) and the
// Imported Registry (one entry per buffer a peer has handed to this VM).
// Both are sync.RWMutex-guarded maps with named insert/find/remove
// accessors, scaled down from a multi-resource-kind registry to two
// handle-keyed tables.
package registry

import (
	"sync"
	"time"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
)

// Stack is a LIFO of activity records. The bottom element (index 0) is the
// one created at export time and is never popped by shadow-op replay; only
// PopAboveBottom exposes that protection, Drain ignores it for final teardown.
type Stack[T any] struct {
	items []T
}

// Push appends to the top of the stack.
func (s *Stack[T]) Push(v T) { s.items = append(s.items, v) }

// PopAboveBottom pops the top item, refusing to pop the bottom (initial)
// element. Returns bridgeerr.Invalid if the stack holds only the bottom or
// is empty: a pop with nothing above the bottom to pop is a protocol error.
func (s *Stack[T]) PopAboveBottom() (T, error) {
	var zero T
	if len(s.items) <= 1 {
		return zero, bridgeerr.New(bridgeerr.Invalid, "activity stack has no entry above its bottom to pop")
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, nil
}

// Drain empties the stack top-to-bottom including the bottom element,
// calling fn for each, for full teardown.
func (s *Stack[T]) Drain(fn func(T)) {
	for i := len(s.items) - 1; i >= 0; i-- {
		fn(s.items[i])
	}
	s.items = nil
}

// Len reports the stack's current depth (including the bottom element, if set).
func (s *Stack[T]) Len() int { return len(s.items) }

// Top peeks the current top element without popping it, used by push ops
// (MAP/KMAP/VMAP) that operate against the most recent attach.
func (s *Stack[T]) Top() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Activity holds the four per-buffer activity stacks.
type Activity struct {
	Attachments Stack[localbuffer.AttachRef]
	Mappings    Stack[localbuffer.SgtRef]
	Kmaps       Stack[uintptr]
	Vmaps       Stack[uintptr]
}

// Empty reports whether every activity stack has drained to nothing,
// one of the conditions an ExportedBuffer must meet before final teardown.
func (a *Activity) Empty() bool {
	return a.Attachments.Len() == 0 && a.Mappings.Len() == 0 && a.Kmaps.Len() == 0 && a.Vmaps.Len() == 0
}

// UnexportState tracks the delayed-unexport timer.
type UnexportState struct {
	Scheduled bool
	Timer     *time.Timer
}

// ExportedEntry is the exporter-side ExportedBuffer.
type ExportedEntry struct {
	mu sync.Mutex

	Handle       handle.Handle
	PeerVM       uint32
	OwnerSession string

	LocalBuf    localbuffer.Ref
	PageLayout  pages.Layout
	ShareHandle shareengine.ShareHandle

	Valid                 bool
	ImporterExportedCount uint32

	Activity Activity
	Unexport UnexportState

	Priv []byte
}

// Lock/Unlock expose the entry's own mutex so callers (remote-sync handler,
// control surface) can serialize mutation without the registry itself
// knowing about shadow-op or verb semantics.
func (e *ExportedEntry) Lock()   { e.mu.Lock() }
func (e *ExportedEntry) Unlock() { e.mu.Unlock() }

// ImportedEntry is the importer-side ImportedBuffer.
type ImportedEntry struct {
	mu sync.Mutex

	Handle     handle.Handle
	PageLayout pages.Layout
	ShareRef   shareengine.ShareRef

	MappedSgt      localbuffer.SgtRef
	HasMappedSgt   bool
	ShadowBuf      localbuffer.Ref
	HasShadowBuf   bool
	Valid          bool
	LocalImporters uint32

	Priv []byte
}

func (e *ImportedEntry) Lock()   { e.mu.Lock() }
func (e *ImportedEntry) Unlock() { e.mu.Unlock() }

// ExportedRegistry is the table of buffers this VM has exported (component F).
type ExportedRegistry struct {
	mu      sync.RWMutex
	entries map[uint32]*ExportedEntry
}

// NewExportedRegistry constructs an empty exported-buffer table.
func NewExportedRegistry() *ExportedRegistry {
	return &ExportedRegistry{entries: make(map[uint32]*ExportedEntry)}
}

// Insert adds e, keyed by e.Handle.ID. Returns bridgeerr.Invalid if the slot
// is already occupied by a live entry: a handle slot is reused only after
// full teardown, at which point Remove must have already run.
func (r *ExportedRegistry) Insert(e *ExportedEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[e.Handle.ID]; ok {
		return bridgeerr.Newf(bridgeerr.Invalid, "slot %d already holds handle %v", e.Handle.ID, existing.Handle)
	}
	r.entries[e.Handle.ID] = e
	return nil
}

// Find looks up h by full 128-bit equality, defeating stale-id collisions
// from a retired-and-reused slot.
func (r *ExportedRegistry) Find(h handle.Handle) (*ExportedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h.ID]
	if !ok || !e.Handle.Equal(h) {
		return nil, false
	}
	return e, true
}

// FindByLocalBuf returns the live entry exporting localBuf to peerVM, if any,
// used by ExportRemote to dedupe re-exports of the same buffer to the same peer.
func (r *ExportedRegistry) FindByLocalBuf(localBuf localbuffer.Ref, peerVM uint32) (*ExportedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.LocalBuf == localBuf && e.PeerVM == peerVM {
			return e, true
		}
	}
	return nil, false
}

// Remove deletes h's entry, called once its full teardown has completed.
func (r *ExportedRegistry) Remove(h handle.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[h.ID]; ok && e.Handle.Equal(h) {
		delete(r.entries, h.ID)
	}
}

// ForEach visits every live entry, used by session-close cleanup.
func (r *ExportedRegistry) ForEach(fn func(*ExportedEntry)) {
	r.mu.RLock()
	snapshot := make([]*ExportedEntry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()
	for _, e := range snapshot {
		fn(e)
	}
}

// Count reports the number of live exported entries.
func (r *ExportedRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ImportedRegistry is the table of buffers a peer has exported to this VM
// (component G).
type ImportedRegistry struct {
	mu      sync.RWMutex
	entries map[uint32]*ImportedEntry
}

// NewImportedRegistry constructs an empty imported-buffer table.
func NewImportedRegistry() *ImportedRegistry {
	return &ImportedRegistry{entries: make(map[uint32]*ImportedEntry)}
}

// Insert adds e, keyed by e.Handle.ID.
func (r *ImportedRegistry) Insert(e *ImportedEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Handle.ID]; ok {
		return bridgeerr.Newf(bridgeerr.Invalid, "slot %d already has a pending import", e.Handle.ID)
	}
	r.entries[e.Handle.ID] = e
	return nil
}

// Find looks up h by full 128-bit equality.
func (r *ImportedRegistry) Find(h handle.Handle) (*ImportedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h.ID]
	if !ok || !e.Handle.Equal(h) {
		return nil, false
	}
	return e, true
}

// Remove deletes h's entry.
func (r *ImportedRegistry) Remove(h handle.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[h.ID]; ok && e.Handle.Equal(h) {
		delete(r.entries, h.ID)
	}
}

// Count reports the number of live imported entries.
func (r *ImportedRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
