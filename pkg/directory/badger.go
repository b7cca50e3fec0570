package directory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// BadgerDirectory is the persistent Directory backend: a peer's bootstrap
// entry survives a daemon restart without needing re-publication. Key
// layout follows the convention of one small helper per logical key
// (keyFile/keyShare/... in a typical badger metadata store).
type BadgerDirectory struct {
	db *badger.DB

	watchMu  sync.Mutex
	nextID   int
	watchers map[uint32]map[int]func(Event)
}

// OpenBadgerDirectory opens (or creates) a badger database rooted at dir.
func OpenBadgerDirectory(dir string) (*BadgerDirectory, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "open badger directory store")
	}
	return &BadgerDirectory{db: db, watchers: make(map[uint32]map[int]func(Event))}, nil
}

func keyGrantRef(selfVM, peerVM uint32) []byte {
	return []byte(fmt.Sprintf("%s/grant_ref", key(selfVM, peerVM)))
}

func keyEventPort(selfVM, peerVM uint32) []byte {
	return []byte(fmt.Sprintf("%s/event_port", key(selfVM, peerVM)))
}

func keyBootstrapPriv(selfVM, peerVM uint32) []byte {
	return []byte(bootstrapKey(selfVM, peerVM) + "/priv")
}

func keyBootstrapTag(selfVM, peerVM uint32) []byte {
	return []byte(bootstrapKey(selfVM, peerVM) + "/tag")
}

func (d *BadgerDirectory) Publish(selfVM, peerVM uint32, entry PeerEntry) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		var grantBytes, portBytes [4]byte
		binary.LittleEndian.PutUint32(grantBytes[:], entry.GrantRef)
		binary.LittleEndian.PutUint32(portBytes[:], entry.EventPort)
		if err := txn.Set(keyGrantRef(selfVM, peerVM), grantBytes[:]); err != nil {
			return err
		}
		return txn.Set(keyEventPort(selfVM, peerVM), portBytes[:])
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "publish peer entry")
	}
	d.notify(peerVM, Event{PeerVM: selfVM, Entry: entry})
	return nil
}

func (d *BadgerDirectory) Lookup(selfVM, peerVM uint32) (PeerEntry, bool, error) {
	var entry PeerEntry
	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		grantItem, err := txn.Get(keyGrantRef(selfVM, peerVM))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		portItem, err := txn.Get(keyEventPort(selfVM, peerVM))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := grantItem.Value(func(val []byte) error {
			entry.GrantRef = binary.LittleEndian.Uint32(val)
			return nil
		}); err != nil {
			return err
		}
		if err := portItem.Value(func(val []byte) error {
			entry.EventPort = binary.LittleEndian.Uint32(val)
			return nil
		}); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return PeerEntry{}, false, bridgeerr.Wrap(bridgeerr.BadArg, err, "lookup peer entry")
	}
	return entry, found, nil
}

func (d *BadgerDirectory) Remove(selfVM, peerVM uint32) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{
			keyGrantRef(selfVM, peerVM), keyEventPort(selfVM, peerVM),
			keyBootstrapPriv(selfVM, peerVM), keyBootstrapTag(selfVM, peerVM),
		} {
			if err := txn.Delete(k); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "remove peer entry")
	}
	d.notify(peerVM, Event{PeerVM: selfVM, Removed: true})
	return nil
}

func (d *BadgerDirectory) PublishBootstrap(selfVM, peerVM uint32, b Bootstrap) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyBootstrapPriv(selfVM, peerVM), b.Priv); err != nil {
			return err
		}
		return txn.Set(keyBootstrapTag(selfVM, peerVM), b.Tag[:])
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "publish bootstrap")
	}
	return nil
}

func (d *BadgerDirectory) LookupBootstrap(selfVM, peerVM uint32) (Bootstrap, bool, error) {
	var b Bootstrap
	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		privItem, err := txn.Get(keyBootstrapPriv(selfVM, peerVM))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		tagItem, err := txn.Get(keyBootstrapTag(selfVM, peerVM))
		if err != nil {
			return err
		}
		if err := privItem.Value(func(val []byte) error {
			b.Priv = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		if err := tagItem.Value(func(val []byte) error {
			copy(b.Tag[:], val)
			return nil
		}); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Bootstrap{}, false, bridgeerr.Wrap(bridgeerr.BadArg, err, "lookup bootstrap")
	}
	return b, found, nil
}

// Watch has no native badger change-feed, so it registers a callback fired
// synchronously by Publish/Remove, same as MemoryDirectory; a polling badger
// subscription (db.Subscribe with a key prefix) is a documented open
// improvement for cross-process daemon restarts watching peers the current
// process didn't publish.
func (d *BadgerDirectory) Watch(ctx context.Context, selfVM uint32, onEvent func(Event)) error {
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

func (d *BadgerDirectory) notify(selfVM uint32, ev Event) {
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

func (d *BadgerDirectory) Close() error {
	if err := d.db.Close(); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "close badger directory store")
	}
	return nil
}
