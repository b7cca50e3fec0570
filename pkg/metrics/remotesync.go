package metrics

import "github.com/hyperbridge/dmabridge/pkg/remotesync"

// NewRemoteSyncMetrics constructs a Prometheus-backed remotesync.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRemoteSyncMetrics() remotesync.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusRemoteSyncMetrics()
}

var newPrometheusRemoteSyncMetrics func() remotesync.Metrics

// RegisterRemoteSyncMetricsConstructor is called by
// pkg/metrics/prometheus/remotesync.go's init().
func RegisterRemoteSyncMetricsConstructor(ctor func() remotesync.Metrics) {
	newPrometheusRemoteSyncMetrics = ctor
}
