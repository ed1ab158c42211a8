package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the core components report into.
type Metrics struct {
	// CredentialSelections counts resolve_key outcomes per provider:
	// "override", "hit", "env", "resolver", "absent".
	CredentialSelections *prometheus.CounterVec

	// CredentialRefreshes counts OAuth refresh outcomes per provider:
	// "ok", "transient", "definitive".
	CredentialRefreshes *prometheus.CounterVec

	// DispatchTaskDuration observes per-task wall time by terminal
	// status.
	DispatchTaskDuration *prometheus.HistogramVec

	// DispatchBatchSize observes task counts per batch.
	DispatchBatchSize prometheus.Histogram

	// AutocompleteLatency observes provider round-trip time for the
	// editor's completion list.
	AutocompleteLatency prometheus.Histogram
}

// NewMetrics builds and registers the collectors on reg. A nil registry
// uses the default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CredentialSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Subsystem: "credential",
			Name:      "selections_total",
			Help:      "resolve_key outcomes per provider",
		}, []string{"provider", "outcome"}),
		CredentialRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Subsystem: "credential",
			Name:      "oauth_refreshes_total",
			Help:      "OAuth refresh outcomes per provider",
		}, []string{"provider", "outcome"}),
		DispatchTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaycore",
			Subsystem: "dispatch",
			Name:      "task_duration_seconds",
			Help:      "Per-task wall time by terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent", "status"}),
		DispatchBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaycore",
			Subsystem: "dispatch",
			Name:      "batch_size_tasks",
			Help:      "Task counts per batch",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		AutocompleteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaycore",
			Subsystem: "editor",
			Name:      "autocomplete_latency_seconds",
			Help:      "Completion provider round-trip time",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	reg.MustRegister(
		m.CredentialSelections,
		m.CredentialRefreshes,
		m.DispatchTaskDuration,
		m.DispatchBatchSize,
		m.AutocompleteLatency,
	)
	return m
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide collectors, registering them
// on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(nil)
	})
	return defaultMetrics
}
