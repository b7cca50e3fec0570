// Package directory implements the peer-discovery key-value store: a
// hierarchical store holding
//
//	/vm/{self}/peer/{remote}/grant_ref   : u32
//	/vm/{self}/peer/{remote}/event_port  : u32
//
// plus an out-of-band bootstrap blob (priv and the handle integrity tag,
// see pkg/wire) published alongside an EXPORT. Entries are watchable: a
// publish or removal under /vm/{self}/peer/{remote} fires a callback so the
// Transport can map the peer's ring (or tear it down) without polling.
package directory

import (
	"context"
	"fmt"
)

// PeerEntry is one peer VM's published bootstrap record.
type PeerEntry struct {
	GrantRef  uint32
	EventPort uint32
}

// Bootstrap is the out-of-band payload published alongside an EXPORT's wire
// frame: the up-to-32-byte priv blob plus the handle's blake2b-128 integrity
// tag, neither of which fits in the frame's fixed operand words (pkg/wire).
type Bootstrap struct {
	Priv []byte
	Tag  [16]byte
}

// Event describes a change observed by Watch.
type Event struct {
	PeerVM  uint32
	Removed bool
	Entry   PeerEntry
}

// key returns the directory path for a peer entry, matching the peer
// discovery schema literally so a fsnotify/badger backend can use it
// directly as a filename/db key.
func key(selfVM, peerVM uint32) string {
	return fmt.Sprintf("/vm/%d/peer/%d", selfVM, peerVM)
}

func bootstrapKey(selfVM, peerVM uint32) string {
	return key(selfVM, peerVM) + "/bootstrap"
}

// Directory is the peer-discovery contract every backend implements.
type Directory interface {
	// Publish writes selfVM's bootstrap entry for peerVM, creating or
	// overwriting it. A republish (e.g. after a restart re-mints grant_ref)
	// must still fire watchers on the peer observing it, per the
	// reconnect-on-peer-restart behavior.
	Publish(selfVM, peerVM uint32, entry PeerEntry) error

	// Lookup reads selfVM's view of peerVM's entry, ok=false if unpublished.
	Lookup(selfVM, peerVM uint32) (PeerEntry, bool, error)

	// Remove deletes selfVM's entry for peerVM, triggering watcher cleanup
	// callbacks on whoever observes it.
	Remove(selfVM, peerVM uint32) error

	// PublishBootstrap attaches the out-of-band priv/tag payload for an
	// export so the peer can retrieve it once EXPORT forwards the handle.
	PublishBootstrap(selfVM, peerVM uint32, b Bootstrap) error

	// LookupBootstrap reads a published bootstrap payload.
	LookupBootstrap(selfVM, peerVM uint32) (Bootstrap, bool, error)

	// Watch observes every publish/removal under selfVM's peer subtree and
	// invokes onEvent for each one until ctx is canceled. Backends that
	// can't watch a remote VM's writes natively (e.g. memory) fire onEvent
	// synchronously from Publish/Remove instead of polling.
	Watch(ctx context.Context, selfVM uint32, onEvent func(Event)) error

	// Close releases backend resources (open files, db handles, watchers).
	Close() error
}
