// Package metrics exposes the daemon's Prometheus collectors: queue depth,
// running count, and per-outcome task counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the gauges and counters the processor and ingress
// update as tasks move through the system.
type Collectors struct {
	QueueDepth  prometheus.Gauge
	Running     prometheus.Gauge
	TaskOutcome *prometheus.CounterVec
}

// New registers the collectors against a fresh registry and returns both.
func New() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collectors{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentrunner_queue_depth",
			Help: "Number of tasks waiting in the pending queue.",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentrunner_running_tasks",
			Help: "Number of tasks currently running.",
		}),
		TaskOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrunner_task_outcomes_total",
			Help: "Count of completed tasks by outcome and provider.",
		}, []string{"outcome", "provider"}),
	}

	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return c, reg
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Outcome labels used with TaskOutcome.
const (
	OutcomeCompletedWithChanges = "completed_with_changes"
	OutcomeCompletedNoChanges   = "completed_no_changes"
	OutcomeFailed               = "failed"
)
