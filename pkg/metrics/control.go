package metrics

import "github.com/hyperbridge/dmabridge/pkg/service"

// NewControlMetrics constructs a Prometheus-backed service.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewControlMetrics() service.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusControlMetrics()
}

var newPrometheusControlMetrics func() service.Metrics

// RegisterControlMetricsConstructor is called by
// pkg/metrics/prometheus/control.go's init().
func RegisterControlMetricsConstructor(ctor func() service.Metrics) {
	newPrometheusControlMetrics = ctor
}
