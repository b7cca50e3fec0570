// Package localbuffer gives the host's DMA-buffer subsystem — an out-of-scope
// collaborator — a minimal concrete shape so the rest of the
// bridge is exercisable and testable: an interface matching
// attach/detach/map/unmap/kmap/vmap/release plus an in-memory fake used by
// tests and wired by hyperdmabufd start as the daemon's only provider.
package localbuffer

import (
	"sync"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/pages"
)

// Ref identifies one local DMA buffer owned by the host subsystem.
type Ref uint64

// AttachRef identifies one outstanding attachment on a buffer.
type AttachRef uint64

// SgtRef identifies one outstanding scatter/gather mapping.
type SgtRef uint64

// Buffer is the contract the core expects from the host DMA-buffer
// subsystem: attach/detach a device, map/unmap a device's DMA access,
// kernel-virtual and vmap mappings, and final release.
type Buffer interface {
	Ref() Ref
	Layout() pages.Layout
	Attach(device string) (AttachRef, error)
	Detach(AttachRef) error
	Map(AttachRef) (SgtRef, error)
	Unmap(SgtRef) error
	BeginCPUAccess() error
	EndCPUAccess() error
	Kmap() (uintptr, error)
	Kunmap(uintptr) error
	Vmap() (uintptr, error)
	Vunmap(uintptr) error
	Release() error
}

// Provider is the out-of-scope collaborator that owns local fds and
// produces Buffer handles for them; ExportRemote's "attach to local buffer"
// step goes through this.
type Provider interface {
	// Open resolves a local fd to a Buffer.
	Open(fd int) (Buffer, error)
}

// memBuffer is the in-memory fake Buffer used by tests and the daemon.
type memBuffer struct {
	mu      sync.Mutex
	ref     Ref
	layout  pages.Layout
	nextID  uint64
	attach  map[AttachRef]string
	sgts    map[SgtRef]AttachRef
	released bool
}

func newMemBuffer(ref Ref, layout pages.Layout) *memBuffer {
	return &memBuffer{
		ref:    ref,
		layout: layout,
		nextID: 1,
		attach: make(map[AttachRef]string),
		sgts:   make(map[SgtRef]AttachRef),
	}
}

func (b *memBuffer) Ref() Ref             { return b.ref }
func (b *memBuffer) Layout() pages.Layout { return b.layout }

func (b *memBuffer) Attach(device string) (AttachRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, bridgeerr.New(bridgeerr.Invalid, "buffer already released")
	}
	id := AttachRef(b.nextID)
	b.nextID++
	b.attach[id] = device
	return id, nil
}

func (b *memBuffer) Detach(a AttachRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attach[a]; !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown attachment")
	}
	delete(b.attach, a)
	return nil
}

func (b *memBuffer) Map(a AttachRef) (SgtRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attach[a]; !ok {
		return 0, bridgeerr.New(bridgeerr.NotFound, "unknown attachment")
	}
	id := SgtRef(b.nextID)
	b.nextID++
	b.sgts[id] = a
	return id, nil
}

func (b *memBuffer) Unmap(s SgtRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sgts[s]; !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown sgt")
	}
	delete(b.sgts, s)
	return nil
}

func (b *memBuffer) BeginCPUAccess() error { return nil }
func (b *memBuffer) EndCPUAccess() error   { return nil }

func (b *memBuffer) Kmap() (uintptr, error)      { return 0, nil }
func (b *memBuffer) Kunmap(uintptr) error        { return nil }
func (b *memBuffer) Vmap() (uintptr, error)      { return 0, nil }
func (b *memBuffer) Vunmap(uintptr) error        { return nil }

func (b *memBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.attach) != 0 || len(b.sgts) != 0 {
		return bridgeerr.New(bridgeerr.StillReferenced, "buffer has outstanding attachments or mappings")
	}
	b.released = true
	return nil
}

// MemProvider is an in-memory Provider fake: fds map 1:1 to pre-registered
// buffers, the shape a test harness needs; hyperdmabufd start also uses it
// as its provider.
type MemProvider struct {
	mu      sync.Mutex
	buffers map[int]*memBuffer
	nextRef uint64
}

// NewMemProvider constructs an empty fake provider.
func NewMemProvider() *MemProvider {
	return &MemProvider{buffers: make(map[int]*memBuffer), nextRef: 1}
}

// Register creates a fd backed by layout, for tests to simulate a
// pre-existing local buffer a verb can export.
func (p *MemProvider) Register(fd int, layout pages.Layout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := Ref(p.nextRef)
	p.nextRef++
	p.buffers[fd] = newMemBuffer(ref, layout)
}

func (p *MemProvider) Open(fd int) (Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buffers[fd]
	if !ok {
		return nil, bridgeerr.New(bridgeerr.BadArg, "unknown local fd")
	}
	return b, nil
}
