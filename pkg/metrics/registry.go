// Package metrics wires pkg/metrics/prometheus's concrete collectors behind
// the Metrics interfaces each domain package (pkg/transport, pkg/service,
// pkg/remotesync) already owns: the domain package defines what it needs to
// report, this package decides whether anything records it at all.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and constructs the process-wide
// Prometheus registry every New*Metrics constructor in this package and
// pkg/metrics/prometheus registers its collectors against. Call it once,
// before constructing any collaborator that takes a *Metrics dependency;
// every New*Metrics call before InitRegistry returns nil.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry, constructing it
// (disabled) on first use so a New*Metrics constructor called before
// InitRegistry never dereferences a nil registry even though IsEnabled
// guards against it actually registering anything.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}
