// Package metrics exposes the Prometheus collectors the Claim/Return
// engines and the periodic server_stats job update.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this server exposes on /metrics.
	Registry = prometheus.NewRegistry()

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qcfractal",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of waiting task_queue rows.",
	})

	claimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "qcfractal",
		Subsystem: "queue",
		Name:      "claims_total",
		Help:      "Total number of tasks handed out across all claim() calls.",
	})

	tasksReturnedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qcfractal",
		Subsystem: "queue",
		Name:      "tasks_returned_total",
		Help:      "Total number of task results processed by the return engine, by outcome.",
	}, []string{"status"})

	managersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qcfractal",
		Subsystem: "managers",
		Name:      "active",
		Help:      "Current number of active compute managers.",
	})
)

func init() {
	Registry.MustRegister(
		queueDepth,
		claimsTotal,
		tasksReturnedTotal,
		managersActive,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetQueueDepth publishes the current waiting-task count, sampled by the
// server_stats periodic job (spec.md §4.J).
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordClaims increments the claimed-task counter by n (spec.md §4.G
// step 3's manager.claimed bump, mirrored at the server level).
func RecordClaims(n int) {
	if n <= 0 {
		return
	}
	claimsTotal.Add(float64(n))
}

// RecordTaskReturn increments the per-outcome return counter (spec.md
// §4.H: complete, error, or rejected).
func RecordTaskReturn(status string) {
	if status == "" {
		status = "unknown"
	}
	tasksReturnedTotal.WithLabelValues(status).Inc()
}

// SetActiveManagers publishes the current active-manager gauge.
func SetActiveManagers(n int) {
	managersActive.Set(float64(n))
}
