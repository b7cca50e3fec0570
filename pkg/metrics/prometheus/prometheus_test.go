package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperbridge/dmabridge/pkg/metrics"
)

var errTest = errors.New("test failure")

func metricNames(t *testing.T) map[string]bool {
	t.Helper()
	mfs, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = true
	}
	return out
}

func TestTransportMetricsRegistersExpectedSeries(t *testing.T) {
	m := newTransportMetrics()
	m.RecordFrameSent(1, "EXPORT")
	m.RecordFrameReceived(1, "EXPORT")
	m.ObserveRoundTrip("EXPORT_FD", 5*time.Millisecond, nil)
	m.ObserveRoundTrip("EXPORT_FD", 200*time.Millisecond, errTest)
	m.SetPendingRequests(1, 3)
	m.RecordWorkerPoolSaturated(1)
	m.SetActiveLinks(2)

	names := metricNames(t)
	for _, name := range []string{
		"dmabridge_transport_frames_sent_total",
		"dmabridge_transport_frames_received_total",
		"dmabridge_transport_round_trip_milliseconds",
		"dmabridge_transport_round_trip_errors_total",
		"dmabridge_transport_pending_requests",
		"dmabridge_transport_worker_pool_saturated_total",
		"dmabridge_transport_active_links",
	} {
		if !names[name] {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestControlMetricsRegistersExpectedSeries(t *testing.T) {
	m := newControlMetrics()
	m.RecordExport("fresh")
	m.RecordExport("reused")
	m.RecordUnexport()
	m.RecordQuery("TYPE")
	m.SetExportedCount(4)
	m.SetImportedCount(1)

	names := metricNames(t)
	for _, name := range []string{
		"dmabridge_control_exports_total",
		"dmabridge_control_unexports_total",
		"dmabridge_control_queries_total",
		"dmabridge_control_exported_buffers",
		"dmabridge_control_imported_buffers",
	} {
		if !names[name] {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestRemoteSyncMetricsRegistersExpectedSeries(t *testing.T) {
	m := newRemoteSyncMetrics()
	m.RecordOpReplay("ATTACH", nil)
	m.RecordOpReplay("RELEASE", errTest)
	m.RecordTeardown()

	names := metricNames(t)
	for _, name := range []string{
		"dmabridge_remotesync_op_replays_total",
		"dmabridge_remotesync_teardowns_total",
	} {
		if !names[name] {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}
