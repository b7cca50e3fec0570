package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hyperbridge/dmabridge/pkg/metrics"
	"github.com/hyperbridge/dmabridge/pkg/remotesync"
)

func init() {
	metrics.RegisterRemoteSyncMetricsConstructor(func() remotesync.Metrics { return newRemoteSyncMetrics() })
}

// remoteSyncMetrics is the Prometheus implementation of remotesync.Metrics.
type remoteSyncMetrics struct {
	opReplays *prometheus.CounterVec
	teardowns prometheus.Counter
}

func newRemoteSyncMetrics() *remoteSyncMetrics {
	reg := metrics.GetRegistry()

	return &remoteSyncMetrics{
		opReplays: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_remotesync_op_replays_total",
				Help: "Total number of OPS_TO_SOURCE ops replayed against a local buffer, by op and status.",
			},
			[]string{"op", "status"},
		),
		teardowns: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dmabridge_remotesync_teardowns_total",
				Help: "Total number of exported buffers fully torn down.",
			},
		),
	}
}

func (m *remoteSyncMetrics) RecordOpReplay(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opReplays.WithLabelValues(op, status).Inc()
}

func (m *remoteSyncMetrics) RecordTeardown() {
	m.teardowns.Inc()
}
