// Package metrics collects Prometheus collectors for the orchestration
// engine. A dedicated registry keeps the exposition surface limited to
// what this process owns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and histograms for the engine.
type Metrics struct {
	registry *prometheus.Registry

	EnvironmentTransitionsTotal *prometheus.CounterVec
	ProvisionSeconds            prometheus.Histogram
	AdapterRetriesTotal         *prometheus.CounterVec
	BatchItemsTotal             *prometheus.CounterVec
	BatchDurationSeconds        prometheus.Histogram
	ExpireSweepDeletionsTotal   prometheus.Counter
}

// New constructs a metrics registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EnvironmentTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kubdev",
				Subsystem: "environment",
				Name:      "transitions_total",
				Help:      "Total number of environment state transitions.",
			},
			[]string{"from", "to"},
		),
		ProvisionSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "kubdev",
				Subsystem: "environment",
				Name:      "provision_duration_seconds",
				Help:      "Time from create request to Running.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			},
		),
		AdapterRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kubdev",
				Subsystem: "adapter",
				Name:      "retries_total",
				Help:      "Adapter submissions retried after a transient error.",
			},
			[]string{"kind"},
		),
		BatchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kubdev",
				Subsystem: "batch",
				Name:      "items_total",
				Help:      "Batch items by final outcome.",
			},
			[]string{"operation", "outcome"},
		),
		BatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "kubdev",
				Subsystem: "batch",
				Name:      "duration_seconds",
				Help:      "Wall time of whole batch jobs.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),
		ExpireSweepDeletionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kubdev",
				Subsystem: "lifecycle",
				Name:      "expire_sweep_deletions_total",
				Help:      "Environments sent to Deleting by the expiry sweep.",
			},
		),
	}

	registry.MustRegister(
		m.EnvironmentTransitionsTotal,
		m.ProvisionSeconds,
		m.AdapterRetriesTotal,
		m.BatchItemsTotal,
		m.BatchDurationSeconds,
		m.ExpireSweepDeletionsTotal,
	)
	return m
}

// ObserveTransition records one state transition.
func (m *Metrics) ObserveTransition(from, to string) {
	m.EnvironmentTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveProvision records a completed provisioning duration.
func (m *Metrics) ObserveProvision(d time.Duration) {
	m.ProvisionSeconds.Observe(d.Seconds())
}

// Handler returns the exposition handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
