package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hyperbridge/dmabridge/pkg/metrics"
	"github.com/hyperbridge/dmabridge/pkg/transport"
)

func init() {
	metrics.RegisterTransportMetricsConstructor(func() transport.Metrics { return newTransportMetrics() })
}

// transportMetrics is the Prometheus implementation of transport.Metrics.
type transportMetrics struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	roundTripMillis  *prometheus.HistogramVec
	roundTripErrors  *prometheus.CounterVec
	pendingRequests  *prometheus.GaugeVec
	workerSaturation *prometheus.CounterVec
	activeLinks      prometheus.Gauge
}

func newTransportMetrics() *transportMetrics {
	reg := metrics.GetRegistry()

	return &transportMetrics{
		framesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_transport_frames_sent_total",
				Help: "Total number of wire frames published to a peer's outbox, by command.",
			},
			[]string{"peer_vm", "command"},
		),
		framesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_transport_frames_received_total",
				Help: "Total number of wire frames consumed off a peer's inbox, by command.",
			},
			[]string{"peer_vm", "command"},
		),
		roundTripMillis: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dmabridge_transport_round_trip_milliseconds",
				Help: "Duration of synchronous Send calls awaiting a response, by command.",
				Buckets: []float64{
					0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000,
				},
			},
			[]string{"command"},
		),
		roundTripErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_transport_round_trip_errors_total",
				Help: "Total number of synchronous Send calls that returned an error, by command.",
			},
			[]string{"command"},
		),
		pendingRequests: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dmabridge_transport_pending_requests",
				Help: "Current number of synchronous requests awaiting a response, per peer.",
			},
			[]string{"peer_vm"},
		),
		workerSaturation: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmabridge_transport_worker_pool_saturated_total",
				Help: "Total number of EXPORT frames dispatched inline because the worker pool had no free slot.",
			},
			[]string{"peer_vm"},
		),
		activeLinks: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dmabridge_transport_active_links",
				Help: "Current number of established peer links.",
			},
		),
	}
}

func (m *transportMetrics) RecordFrameSent(peerVM uint32, command string) {
	m.framesSent.WithLabelValues(uintLabel(peerVM), command).Inc()
}

func (m *transportMetrics) RecordFrameReceived(peerVM uint32, command string) {
	m.framesReceived.WithLabelValues(uintLabel(peerVM), command).Inc()
}

func (m *transportMetrics) ObserveRoundTrip(command string, d time.Duration, err error) {
	m.roundTripMillis.WithLabelValues(command).Observe(float64(d.Milliseconds()))
	if err != nil {
		m.roundTripErrors.WithLabelValues(command).Inc()
	}
}

func (m *transportMetrics) SetPendingRequests(peerVM uint32, n int) {
	m.pendingRequests.WithLabelValues(uintLabel(peerVM)).Set(float64(n))
}

func (m *transportMetrics) RecordWorkerPoolSaturated(peerVM uint32) {
	m.workerSaturation.WithLabelValues(uintLabel(peerVM)).Inc()
}

func (m *transportMetrics) SetActiveLinks(n int) {
	m.activeLinks.Set(float64(n))
}
