package models

import "errors"

// Common errors for control plane persistence operations.
var (
	// Peer errors
	ErrPeerNotFound  = errors.New("peer not found")
	ErrDuplicatePeer = errors.New("peer already registered")

	// Export audit errors
	ErrAuditEntryNotFound = errors.New("export audit entry not found")
)
