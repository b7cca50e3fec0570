package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Directory {
	t.Helper()
	fileDir, err := NewFileDirectory(filepath.Join(t.TempDir(), "directory"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fileDir.Close() })

	badgerDir, err := OpenBadgerDirectory(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerDir.Close() })

	return map[string]Directory{
		"memory":   NewMemoryDirectory(),
		"fsnotify": fileDir,
		"badger":   badgerDir,
	}
}

func TestPublishLookupRoundTrip(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Publish(1, 2, PeerEntry{GrantRef: 7, EventPort: 42}))

			entry, ok, err := d.Lookup(1, 2)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, PeerEntry{GrantRef: 7, EventPort: 42}, entry)
		})
	}
}

func TestLookupMissingEntryIsNotFoundNotError(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := d.Lookup(1, 99)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRepublishOverwritesGrantRef(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Publish(1, 2, PeerEntry{GrantRef: 1, EventPort: 1}))
			require.NoError(t, d.Publish(1, 2, PeerEntry{GrantRef: 2, EventPort: 1}))

			entry, ok, err := d.Lookup(1, 2)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint32(2), entry.GrantRef)
		})
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Publish(1, 2, PeerEntry{GrantRef: 1, EventPort: 1}))
			require.NoError(t, d.Remove(1, 2))

			_, ok, err := d.Lookup(1, 2)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBootstrapRoundTrip(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tag := [16]byte{1, 2, 3}
			require.NoError(t, d.PublishBootstrap(1, 2, Bootstrap{Priv: []byte("secret"), Tag: tag}))

			b, ok, err := d.LookupBootstrap(1, 2)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("secret"), b.Priv)
			assert.Equal(t, tag, b.Tag)
		})
	}
}

func TestWatchFiresOnPublishAndRemove(t *testing.T) {
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			events := make(chan Event, 8)
			require.NoError(t, d.Watch(ctx, 1, func(ev Event) { events <- ev }))

			require.NoError(t, d.Publish(1, 2, PeerEntry{GrantRef: 9, EventPort: 10}))
			select {
			case ev := <-events:
				assert.Equal(t, uint32(2), ev.PeerVM)
				assert.False(t, ev.Removed)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for publish event")
			}

			require.NoError(t, d.Remove(1, 2))
			select {
			case ev := <-events:
				assert.Equal(t, uint32(2), ev.PeerVM)
				assert.True(t, ev.Removed)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for remove event")
			}
		})
	}
}
