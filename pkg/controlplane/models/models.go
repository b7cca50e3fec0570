// Package models defines the GORM-mapped rows persisted by the control
// plane: the peer bootstrap list (which VMs exist and how to dial their
// transport) and an append-only export audit log. Exported/imported buffer
// state itself is never persisted here — it's process-lifetime, held in
// pkg/service's in-memory registries.
package models

import "time"

// Peer is one entry in the control plane's peer bootstrap list: a VM the
// operator has registered, and the address hyperdmabufd dials to reach its
// transport (the grpctransport dev backend, or a site-specific ring
// transport's bootstrap endpoint).
type Peer struct {
	VMID          uint32    `gorm:"primaryKey" json:"vm_id"`
	Name          string    `gorm:"size:255" json:"name"`
	TransportAddr string    `gorm:"not null;size:255" json:"transport_addr"`
	Enabled       bool      `gorm:"default:true" json:"enabled"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Peer.
func (Peer) TableName() string {
	return "peers"
}

// Export audit action names.
const (
	AuditActionExport    = "export"
	AuditActionReused    = "reused"
	AuditActionUnexport  = "unexport"
	AuditActionTeardown  = "teardown"
	AuditActionExportErr = "export_error"
)

// ExportAuditEntry is one append-only record of a control-surface export
// lifecycle event, kept for operator visibility into who exported what to
// whom and when — not consulted on the export/import fast path.
type ExportAuditEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Handle    string    `gorm:"not null;size:32;index" json:"handle"`
	OwnerVM   uint32    `gorm:"not null;index" json:"owner_vm"`
	PeerVM    uint32    `gorm:"not null;index" json:"peer_vm"`
	SizeBytes uint64    `json:"size_bytes"`
	Action    string    `gorm:"not null;size:32" json:"action"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for ExportAuditEntry.
func (ExportAuditEntry) TableName() string {
	return "export_audit_entries"
}

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Peer{},
		&ExportAuditEntry{},
	}
}
