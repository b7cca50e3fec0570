package directory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// FileDirectory mirrors the Xenstore-style peer-bootstrap tree onto a plain
// directory of files: /vm/{self}/peer/{remote}/grant_ref and .../event_port
// become flat files named "{remote}.grant_ref" / "{remote}.event_port"
// directly under selfVM's root, so a single non-recursive watch on that root
// (fsnotify has no recursive mode) sees every peer's publish/removal,
// watched the same way a log-tailing command follows a growing file
// instead of polling stat().
type FileDirectory struct {
	root string
}

// NewFileDirectory roots a FileDirectory at dir, creating it if absent.
func NewFileDirectory(dir string) (*FileDirectory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "create directory root")
	}
	return &FileDirectory{root: dir}, nil
}

func (d *FileDirectory) selfDir(selfVM uint32) string {
	return filepath.Join(d.root, "vm", strconv.FormatUint(uint64(selfVM), 10), "peer")
}

func (d *FileDirectory) peerFile(selfVM, peerVM uint32, suffix string) string {
	return filepath.Join(d.selfDir(selfVM), fmt.Sprintf("%d.%s", peerVM, suffix))
}

func (d *FileDirectory) Publish(selfVM, peerVM uint32, entry PeerEntry) error {
	if err := os.MkdirAll(d.selfDir(selfVM), 0o755); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "create peer root")
	}
	if err := writeU32(d.peerFile(selfVM, peerVM, "grant_ref"), entry.GrantRef); err != nil {
		return err
	}
	if err := writeU32(d.peerFile(selfVM, peerVM, "event_port"), entry.EventPort); err != nil {
		return err
	}
	return nil
}

func (d *FileDirectory) Lookup(selfVM, peerVM uint32) (PeerEntry, bool, error) {
	grantRef, ok, err := readU32(d.peerFile(selfVM, peerVM, "grant_ref"))
	if err != nil || !ok {
		return PeerEntry{}, ok, err
	}
	eventPort, ok, err := readU32(d.peerFile(selfVM, peerVM, "event_port"))
	if err != nil || !ok {
		return PeerEntry{}, ok, err
	}
	return PeerEntry{GrantRef: grantRef, EventPort: eventPort}, true, nil
}

func (d *FileDirectory) Remove(selfVM, peerVM uint32) error {
	for _, suffix := range []string{"grant_ref", "event_port", "priv", "tag"} {
		if err := os.Remove(d.peerFile(selfVM, peerVM, suffix)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return bridgeerr.Wrap(bridgeerr.BadArg, err, "remove peer entry file")
		}
	}
	return nil
}

func (d *FileDirectory) PublishBootstrap(selfVM, peerVM uint32, b Bootstrap) error {
	if err := os.MkdirAll(d.selfDir(selfVM), 0o755); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "create peer root")
	}
	if err := os.WriteFile(d.peerFile(selfVM, peerVM, "priv"), b.Priv, 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "write priv blob")
	}
	if err := os.WriteFile(d.peerFile(selfVM, peerVM, "tag"), b.Tag[:], 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "write handle tag")
	}
	return nil
}

func (d *FileDirectory) LookupBootstrap(selfVM, peerVM uint32) (Bootstrap, bool, error) {
	priv, err := os.ReadFile(d.peerFile(selfVM, peerVM, "priv"))
	if errors.Is(err, os.ErrNotExist) {
		return Bootstrap{}, false, nil
	}
	if err != nil {
		return Bootstrap{}, false, bridgeerr.Wrap(bridgeerr.BadArg, err, "read priv blob")
	}
	tagBytes, err := os.ReadFile(d.peerFile(selfVM, peerVM, "tag"))
	if err != nil {
		return Bootstrap{}, false, bridgeerr.Wrap(bridgeerr.BadArg, err, "read handle tag")
	}
	var b Bootstrap
	b.Priv = priv
	copy(b.Tag[:], tagBytes)
	return b, true, nil
}

// Watch installs a single fsnotify watch on selfVM's peer root (flat, so no
// recursive watch is needed) and translates Create/Write/Remove events on
// "{remote}.grant_ref" files into publish/removal Events. The root is
// created empty if it doesn't exist yet so Watch can be called before the
// first peer ever publishes.
func (d *FileDirectory) Watch(ctx context.Context, selfVM uint32, onEvent func(Event)) error {
	if onEvent == nil {
		return bridgeerr.New(bridgeerr.BadArg, "nil watch callback")
	}
	dir := d.selfDir(selfVM)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "create watch root")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "create fsnotify watcher")
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return bridgeerr.Wrap(bridgeerr.BadArg, err, "watch peer root")
	}

	go d.watchLoop(ctx, watcher, selfVM, onEvent)
	return nil
}

func (d *FileDirectory) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, selfVM uint32, onEvent func(Event)) {
	defer func() { _ = watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(ev, selfVM, onEvent)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("directory: fsnotify watcher error", logger.Err(err), logger.SelfVM(selfVM))
		}
	}
}

func (d *FileDirectory) handleFsEvent(ev fsnotify.Event, selfVM uint32, onEvent func(Event)) {
	base := filepath.Base(ev.Name)
	peerVM, suffix, ok := splitPeerFile(base)
	if !ok {
		return
	}

	switch {
	case suffix == "grant_ref" && ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		entry, found, err := d.Lookup(selfVM, peerVM)
		if err != nil || !found {
			return
		}
		onEvent(Event{PeerVM: peerVM, Entry: entry})

	case suffix == "grant_ref" && ev.Op&fsnotify.Remove == fsnotify.Remove:
		onEvent(Event{PeerVM: peerVM, Removed: true})
	}
}

// splitPeerFile parses a flat peer filename "{remote}.{suffix}".
func splitPeerFile(base string) (peerVM uint32, suffix string, ok bool) {
	idx := strings.IndexByte(base, '.')
	if idx < 0 {
		return 0, "", false
	}
	v, err := strconv.ParseUint(base[:idx], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(v), base[idx+1:], true
}

func (d *FileDirectory) Close() error { return nil }

func writeU32(path string, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if err := os.WriteFile(path, buf[:], 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.BadArg, err, fmt.Sprintf("write %s", path))
	}
	return nil
}

func readU32(path string) (uint32, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, bridgeerr.Wrap(bridgeerr.BadArg, err, fmt.Sprintf("read %s", path))
	}
	if len(data) < 4 {
		return 0, false, bridgeerr.Newf(bridgeerr.BadArg, "truncated value at %s", path)
	}
	return binary.LittleEndian.Uint32(data), true, nil
}
