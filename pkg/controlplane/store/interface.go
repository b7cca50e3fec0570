package store

import (
	"context"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
)

// PeerStore manages the control plane's peer bootstrap list.
//
// All methods are safe for concurrent use.
type PeerStore interface {
	// GetPeer returns a peer by VM id.
	// Returns models.ErrPeerNotFound if no peer is registered under that id.
	GetPeer(ctx context.Context, vmID uint32) (*models.Peer, error)

	// ListPeers returns every registered peer.
	ListPeers(ctx context.Context) ([]*models.Peer, error)

	// CreatePeer registers a new peer.
	// Returns models.ErrDuplicatePeer if vmID is already registered.
	CreatePeer(ctx context.Context, peer *models.Peer) error

	// UpdatePeer updates an existing peer's name/address/enabled fields.
	// Returns models.ErrPeerNotFound if vmID isn't registered.
	UpdatePeer(ctx context.Context, peer *models.Peer) error

	// DeletePeer removes a peer from the bootstrap list.
	// Returns models.ErrPeerNotFound if vmID isn't registered.
	DeletePeer(ctx context.Context, vmID uint32) error
}

// AuditStore records and queries the export audit log.
type AuditStore interface {
	// RecordAuditEntry appends one export lifecycle event. The entry's ID
	// is generated if empty.
	RecordAuditEntry(ctx context.Context, entry *models.ExportAuditEntry) error

	// ListAuditEntriesForHandle returns every recorded event for a handle,
	// oldest first.
	ListAuditEntriesForHandle(ctx context.Context, handle string) ([]*models.ExportAuditEntry, error)

	// ListRecentAuditEntries returns the most recent entries across all
	// handles, newest first, capped at limit.
	ListRecentAuditEntries(ctx context.Context, limit int) ([]*models.ExportAuditEntry, error)
}

// Store is the full control plane persistence surface. Consumers should
// accept the narrowest sub-interface they need.
type Store interface {
	PeerStore
	AuditStore

	// Healthcheck pings the underlying database connection.
	Healthcheck(ctx context.Context) error

	// Close releases the underlying database connection.
	Close() error
}
