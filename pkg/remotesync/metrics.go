package remotesync

// Metrics is remote-sync's optional observability hook. A nil Metrics
// disables collection entirely.
type Metrics interface {
	// RecordOpReplay counts one OPS_TO_SOURCE op replayed against a local
	// buffer, tagged with a non-nil err when the replay failed.
	RecordOpReplay(op string, err error)
	// RecordTeardown counts one exported buffer fully torn down, whether
	// driven by a RELEASE reaching importer_exported_count zero or by the
	// control surface's forced paths.
	RecordTeardown()
}
