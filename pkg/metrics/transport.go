package metrics

import "github.com/hyperbridge/dmabridge/pkg/transport"

// NewTransportMetrics constructs a Prometheus-backed transport.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called). A nil
// transport.Metrics is exactly what pkg/transport.New expects to disable
// collection with zero overhead, so callers can pass this straight through.
func NewTransportMetrics() transport.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusTransportMetrics()
}

// newPrometheusTransportMetrics is supplied by pkg/metrics/prometheus's
// init(), breaking the import cycle a direct call would create (this
// package can't import pkg/metrics/prometheus, which imports this package
// for IsEnabled/GetRegistry).
var newPrometheusTransportMetrics func() transport.Metrics

// RegisterTransportMetricsConstructor is called by
// pkg/metrics/prometheus/transport.go's init().
func RegisterTransportMetricsConstructor(ctor func() transport.Metrics) {
	newPrometheusTransportMetrics = ctor
}
