package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
)

// HealthCheckTimeout bounds how long a store healthcheck may block a probe.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler serves the unauthenticated liveness/readiness probes.
type HealthHandler struct {
	store     store.Store
	startTime time.Time
}

// NewHealthHandler builds a health handler over cpStore. cpStore may be nil,
// in which case readiness and store checks report unhealthy rather than
// panic — useful for a daemon running with the in-memory-only profile.
func NewHealthHandler(cpStore store.Store) *HealthHandler {
	return &HealthHandler{store: cpStore, startTime: time.Now()}
}

// Liveness handles GET /health. Always 200 once the process can answer.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, healthyEnvelope(map[string]any{
		"service":    "hyperdmabufd",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
	}))
}

// Readiness handles GET /health/ready. 503 when no control-plane store is
// configured at all.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyEnvelope("control plane store not configured"))
		return
	}
	WriteJSON(w, http.StatusOK, healthyEnvelope(nil))
}

// Store handles GET /health/store, pinging the underlying database.
func (h *HealthHandler) Store(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyEnvelope("control plane store not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Healthcheck(ctx)
	latency := time.Since(start).String()

	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyEnvelope(err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, healthyEnvelope(map[string]any{"latency": latency}))
}
