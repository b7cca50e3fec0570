package directory

import (
	"context"
	"sync"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// MemoryDirectory is an in-process Directory backend for tests and the
// daemon's default "memory" backend: no persistence, watchers fire synchronously
// from Publish/Remove since there is no remote write to poll for.
type MemoryDirectory struct {
	mu         sync.RWMutex
	entries    map[string]PeerEntry
	bootstraps map[string]Bootstrap

	watchMu  sync.Mutex
	nextID   int
	watchers map[uint32]map[int]func(Event)
}

// NewMemoryDirectory constructs an empty in-memory Directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		entries:    make(map[string]PeerEntry),
		bootstraps: make(map[string]Bootstrap),
		watchers:   make(map[uint32]map[int]func(Event)),
	}
}

func (d *MemoryDirectory) Publish(selfVM, peerVM uint32, entry PeerEntry) error {
	d.mu.Lock()
	d.entries[key(selfVM, peerVM)] = entry
	d.mu.Unlock()

	d.notify(peerVM, Event{PeerVM: selfVM, Entry: entry})
	return nil
}

func (d *MemoryDirectory) Lookup(selfVM, peerVM uint32) (PeerEntry, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key(selfVM, peerVM)]
	return e, ok, nil
}

func (d *MemoryDirectory) Remove(selfVM, peerVM uint32) error {
	d.mu.Lock()
	delete(d.entries, key(selfVM, peerVM))
	delete(d.bootstraps, bootstrapKey(selfVM, peerVM))
	d.mu.Unlock()

	d.notify(peerVM, Event{PeerVM: selfVM, Removed: true})
	return nil
}

func (d *MemoryDirectory) PublishBootstrap(selfVM, peerVM uint32, b Bootstrap) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootstraps[bootstrapKey(selfVM, peerVM)] = b
	return nil
}

func (d *MemoryDirectory) LookupBootstrap(selfVM, peerVM uint32) (Bootstrap, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bootstraps[bootstrapKey(selfVM, peerVM)]
	return b, ok, nil
}

// Watch registers onEvent for every Publish/Remove addressed to selfVM's
// peer subtree. There is no remote write path to observe in-process, so this
// backend treats "watching selfVM" as "watching whoever calls Publish/Remove
// naming selfVM as peerVM" — i.e. it is keyed by the opposite VM's view,
// mirroring a real peer watching the reciprocal Xenstore path.
func (d *MemoryDirectory) Watch(ctx context.Context, selfVM uint32, onEvent func(Event)) error {
	if onEvent == nil {
		return bridgeerr.New(bridgeerr.BadArg, "nil watch callback")
	}
	d.watchMu.Lock()
	if d.watchers[selfVM] == nil {
		d.watchers[selfVM] = make(map[int]func(Event))
	}
	id := d.nextID
	d.nextID++
	d.watchers[selfVM][id] = onEvent
	d.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		d.watchMu.Lock()
		delete(d.watchers[selfVM], id)
		d.watchMu.Unlock()
	}()
	return nil
}

func (d *MemoryDirectory) notify(selfVM uint32, ev Event) {
	d.watchMu.Lock()
	cbs := make([]func(Event), 0, len(d.watchers[selfVM]))
	for _, cb := range d.watchers[selfVM] {
		cbs = append(cbs, cb)
	}
	d.watchMu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (d *MemoryDirectory) Close() error { return nil }
