package service

// Metrics is the control surface's optional observability hook. A nil
// Metrics disables collection entirely; pkg/metrics.NewControlMetrics
// already returns nil when metrics are not enabled, so Deps.Metrics can
// always be set to its result without a nil check at the call site.
type Metrics interface {
	// RecordExport counts one ExportRemote call, tagged "fresh" or "reused"
	// depending on whether it minted a new handle or handed back a live
	// export's existing one (canceling its pending unexport, if any).
	RecordExport(outcome string)
	// RecordUnexport counts one Unexport call that scheduled a
	// delayed-unexport timer; a repeat call while a timer is already
	// scheduled is not counted.
	RecordUnexport()
	// RecordQuery counts one Query call by the item it asked about.
	RecordQuery(item string)
	// SetExportedCount reports the current size of the exported registry.
	SetExportedCount(n int)
	// SetImportedCount reports the current size of the imported registry.
	SetImportedCount(n int)
}
