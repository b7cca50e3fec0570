package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hyperbridge/dmabridge/pkg/metrics"
	"github.com/hyperbridge/dmabridge/pkg/service"
)

func init() {
	metrics.RegisterControlMetricsConstructor(func() service.Metrics { return newControlMetrics() })
}

// controlMetrics is the Prometheus implementation of service.Metrics.
type controlMetrics struct {
	exports       *prometheus.CounterVec
	unexports     prometheus.Counter
	queries       *prometheus.CounterVec
	exportedCount prometheus.Gauge
	importedCount prometheus.Gauge
}

func newControlMetrics() *controlMetrics {
	reg := metrics.GetRegistry()

	return &controlMetrics{
		exports: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_control_exports_total",
				Help: "Total number of ExportRemote calls, by outcome (fresh or reused).",
			},
			[]string{"outcome"},
		),
		unexports: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dmabridge_control_unexports_total",
				Help: "Total number of Unexport calls.",
			},
		),
		queries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_control_queries_total",
				Help: "Total number of Query calls, by item queried.",
			},
			[]string{"item"},
		),
		exportedCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dmabridge_control_exported_buffers",
				Help: "Current number of buffers in the exported registry.",
			},
		),
		importedCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dmabridge_control_imported_buffers",
				Help: "Current number of buffers in the imported registry.",
			},
		),
	}
}

func (m *controlMetrics) RecordExport(outcome string) { m.exports.WithLabelValues(outcome).Inc() }
func (m *controlMetrics) RecordUnexport()             { m.unexports.Inc() }
func (m *controlMetrics) RecordQuery(item string)     { m.queries.WithLabelValues(item).Inc() }
func (m *controlMetrics) SetExportedCount(n int)      { m.exportedCount.Set(float64(n)) }
func (m *controlMetrics) SetImportedCount(n int)      { m.importedCount.Set(float64(n)) }
