//go:build integration

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{Type: "invalid"}
		_, err := New(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory store", func(t *testing.T) {
		store := createTestStore(t)
		defer store.Close()

		if store == nil {
			t.Error("expected non-nil store")
		}
	})
}

func TestPeerOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create and get peer", func(t *testing.T) {
		peer := &models.Peer{VMID: 2, Name: "vm2", TransportAddr: "vm2.local:9443"}
		if err := store.CreatePeer(ctx, peer); err != nil {
			t.Fatalf("CreatePeer: %v", err)
		}

		got, err := store.GetPeer(ctx, 2)
		if err != nil {
			t.Fatalf("GetPeer: %v", err)
		}
		if got.Name != "vm2" || got.TransportAddr != "vm2.local:9443" {
			t.Errorf("unexpected peer: %+v", got)
		}
		if !got.Enabled {
			t.Error("expected Enabled to default true")
		}
	})

	t.Run("duplicate vm_id rejected", func(t *testing.T) {
		peer := &models.Peer{VMID: 3, Name: "vm3", TransportAddr: "vm3.local:9443"}
		if err := store.CreatePeer(ctx, peer); err != nil {
			t.Fatalf("CreatePeer: %v", err)
		}
		err := store.CreatePeer(ctx, &models.Peer{VMID: 3, Name: "vm3-dup", TransportAddr: "x"})
		if !errors.Is(err, models.ErrDuplicatePeer) {
			t.Errorf("expected ErrDuplicatePeer, got %v", err)
		}
	})

	t.Run("get unknown peer", func(t *testing.T) {
		_, err := store.GetPeer(ctx, 999)
		if !errors.Is(err, models.ErrPeerNotFound) {
			t.Errorf("expected ErrPeerNotFound, got %v", err)
		}
	})

	t.Run("update peer", func(t *testing.T) {
		peer := &models.Peer{VMID: 4, Name: "vm4", TransportAddr: "vm4.local:9443"}
		if err := store.CreatePeer(ctx, peer); err != nil {
			t.Fatalf("CreatePeer: %v", err)
		}

		err := store.UpdatePeer(ctx, &models.Peer{VMID: 4, Name: "vm4-renamed", TransportAddr: "vm4.local:9999", Enabled: false})
		if err != nil {
			t.Fatalf("UpdatePeer: %v", err)
		}

		got, err := store.GetPeer(ctx, 4)
		if err != nil {
			t.Fatalf("GetPeer: %v", err)
		}
		if got.Name != "vm4-renamed" || got.TransportAddr != "vm4.local:9999" || got.Enabled {
			t.Errorf("update did not apply: %+v", got)
		}
	})

	t.Run("update unknown peer", func(t *testing.T) {
		err := store.UpdatePeer(ctx, &models.Peer{VMID: 998})
		if !errors.Is(err, models.ErrPeerNotFound) {
			t.Errorf("expected ErrPeerNotFound, got %v", err)
		}
	})

	t.Run("delete peer", func(t *testing.T) {
		peer := &models.Peer{VMID: 5, Name: "vm5", TransportAddr: "vm5.local:9443"}
		if err := store.CreatePeer(ctx, peer); err != nil {
			t.Fatalf("CreatePeer: %v", err)
		}
		if err := store.DeletePeer(ctx, 5); err != nil {
			t.Fatalf("DeletePeer: %v", err)
		}
		if _, err := store.GetPeer(ctx, 5); !errors.Is(err, models.ErrPeerNotFound) {
			t.Errorf("expected ErrPeerNotFound after delete, got %v", err)
		}
	})

	t.Run("list peers", func(t *testing.T) {
		peers, err := store.ListPeers(ctx)
		if err != nil {
			t.Fatalf("ListPeers: %v", err)
		}
		if len(peers) == 0 {
			t.Error("expected at least one registered peer")
		}
	})
}

func TestAuditOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	entry1 := &models.ExportAuditEntry{Handle: "deadbeef", OwnerVM: 1, PeerVM: 2, SizeBytes: 4096, Action: models.AuditActionExport}
	entry2 := &models.ExportAuditEntry{Handle: "deadbeef", OwnerVM: 1, PeerVM: 2, Action: models.AuditActionUnexport}

	if err := store.RecordAuditEntry(ctx, entry1); err != nil {
		t.Fatalf("RecordAuditEntry: %v", err)
	}
	if entry1.ID == "" {
		t.Error("expected RecordAuditEntry to assign an ID")
	}
	if err := store.RecordAuditEntry(ctx, entry2); err != nil {
		t.Fatalf("RecordAuditEntry: %v", err)
	}

	t.Run("list entries for handle", func(t *testing.T) {
		entries, err := store.ListAuditEntriesForHandle(ctx, "deadbeef")
		if err != nil {
			t.Fatalf("ListAuditEntriesForHandle: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].Action != models.AuditActionExport || entries[1].Action != models.AuditActionUnexport {
			t.Errorf("unexpected ordering: %+v", entries)
		}
	})

	t.Run("list recent entries honors limit", func(t *testing.T) {
		entries, err := store.ListRecentAuditEntries(ctx, 1)
		if err != nil {
			t.Fatalf("ListRecentAuditEntries: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
	})
}
