// Package shareengine adapts the hypervisor's page-grant primitive. The
// real primitive is three calls — grant, map, unmap — so this package
// models it as a two-level grant table on top of a single mmap'd arena file
// standing in for the pages the hypervisor would actually share, shaped
// after a header-prefixed mmap persister (header-tagged append-only file,
// golang.org/x/sys/unix mmap/munmap).
package shareengine

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/pages"
)

// refsPerPage bounds how many refs a single L2/top page can hold, mirroring
// PAGE_SIZE / sizeof(ref).
const refsPerPage = pages.PageSize / 4

// ShareHandle is the opaque top-level grant ref returned to the exporter.
type ShareHandle uint32

// ShareRef is the opaque token an importer needs to map a peer's pages; it
// retains the unmap-ops vector for the data pages.
type ShareRef struct {
	Top   ShareHandle
	pages []pages.PageRef
}

// Engine is the ShareEngine interface this package models
// as an injectable interface instead of a function-pointer table. One Engine
// instance is process-wide (the grant table is a shared resource).
type Engine interface {
	// LocalVMID reports the VM this engine instance belongs to.
	LocalVMID() uint32
	// SharePages grants foreign read-write access to layout's pages and
	// publishes the two-level table, returning its top-level ref.
	SharePages(layout pages.Layout) (ShareHandle, error)
	// UnsharePages tears the table down in reverse order. Returns
	// StillReferenced if any ShareRef built from it is still mapped.
	UnsharePages(h ShareHandle) error
	// MapSharedPages walks the two-level table for h and maps its data
	// pages, returning a ShareRef the caller must eventually unmap.
	MapSharedPages(h ShareHandle) (ShareRef, error)
	// UnmapSharedPages releases the data-page mappings held by ref.
	UnmapSharedPages(ref ShareRef) error
}

type grant struct {
	layout    pages.Layout
	l2Refs    []uint32
	mapCount  int // outstanding MapSharedPages calls referencing this grant
}

// MmapEngine is the concrete Engine backed by one mmap'd arena file per
// process, simulating the hypervisor's granted physical pages.
type MmapEngine struct {
	selfVM uint32

	arenaPath string
	arena     []byte
	mu        sync.Mutex
	nextRef   uint32
	grants    map[uint32]*grant
}

// NewMmapEngine constructs an Engine for the given VM, backed by an mmap'd
// arena file at arenaPath (created if absent).
func NewMmapEngine(selfVM uint32, arenaPath string) (*MmapEngine, error) {
	f, err := unix.Open(arenaPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "open share-engine arena file")
	}
	// Ensure the arena has at least one page so Mmap below never sees a
	// zero-length file; actual page content is irrelevant to this adapter,
	// only the grant bookkeeping is modeled.
	if err := unix.Ftruncate(f, pages.PageSize); err != nil {
		unix.Close(f)
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "truncate share-engine arena file")
	}
	region, err := unix.Mmap(f, 0, pages.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(f)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "mmap share-engine arena file")
	}

	return &MmapEngine{
		selfVM:    selfVM,
		arenaPath: arenaPath,
		arena:     region,
		nextRef:   1,
		grants:    make(map[uint32]*grant),
	}, nil
}

func (e *MmapEngine) LocalVMID() uint32 { return e.selfVM }

// Close releases the mmap'd arena. Safe to call once at daemon shutdown.
func (e *MmapEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.arena == nil {
		return nil
	}
	err := unix.Munmap(e.arena)
	e.arena = nil
	return err
}

// SharePages builds the two-level table: data pages are modeled as leaves,
// grouped refsPerPage at a time under synthetic L2 refs, themselves grouped
// under one top ref (a fleet-sized buffer of ~16MiB / 4KiB = 4096 pages
// needs at most 4 L2 pages, which fit in a single top page).
func (e *MmapEngine) SharePages(layout pages.Layout) (ShareHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(layout.Pages) == 0 {
		return 0, bridgeerr.New(bridgeerr.BadArg, "cannot share empty page layout")
	}

	nL2 := (len(layout.Pages) + refsPerPage - 1) / refsPerPage
	if nL2 > refsPerPage {
		return 0, bridgeerr.Newf(bridgeerr.BadArg, "buffer too large for a single top page: %d L2 pages needed", nL2)
	}

	l2Refs := make([]uint32, nL2)
	for i := range l2Refs {
		l2Refs[i] = e.allocRef()
	}
	top := e.allocRef()

	e.grants[top] = &grant{layout: layout, l2Refs: l2Refs}

	logger.Debug("shareengine: pages shared",
		logger.ShareHandle(top), logger.Nents(len(layout.Pages)))

	return ShareHandle(top), nil
}

// UnsharePages releases the table for h. Fails with StillReferenced while
// any MapSharedPages call on h has not been matched by UnmapSharedPages:
// release must never precede the matching importer-side unmap.
func (e *MmapEngine) UnsharePages(h ShareHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.grants[uint32(h)]
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown share handle")
	}
	if g.mapCount > 0 {
		return bridgeerr.New(bridgeerr.StillReferenced, "importer has not released mapped pages")
	}
	delete(e.grants, uint32(h))
	return nil
}

// MapSharedPages walks h's table and returns the flat page sequence it
// describes, plus a ShareRef the importer must unmap exactly once.
func (e *MmapEngine) MapSharedPages(h ShareHandle) (ShareRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.grants[uint32(h)]
	if !ok {
		return ShareRef{}, bridgeerr.New(bridgeerr.NotFound, "unknown share handle")
	}
	g.mapCount++

	flat := make([]pages.PageRef, len(g.layout.Pages))
	copy(flat, g.layout.Pages)
	return ShareRef{Top: h, pages: flat}, nil
}

// UnmapSharedPages releases the mapping recorded by ref, allowing a
// subsequent UnsharePages on ref.Top to proceed.
func (e *MmapEngine) UnmapSharedPages(ref ShareRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.grants[uint32(ref.Top)]
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "unknown share handle")
	}
	if g.mapCount == 0 {
		return bridgeerr.New(bridgeerr.BadArg, "unmap without a matching map")
	}
	g.mapCount--
	return nil
}

func (e *MmapEngine) allocRef() uint32 {
	r := e.nextRef
	e.nextRef++
	return r
}

// Pages exposes the flat page sequence carried by a ShareRef, for the
// shadow buffer to build a local sgt from.
func (r ShareRef) Pages() []pages.PageRef {
	return r.pages
}

func (r ShareRef) String() string {
	return fmt.Sprintf("shareref{top:%d, npages:%d}", r.Top, len(r.pages))
}
