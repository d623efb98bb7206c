package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/webtasks/internal/model"
)

// MetricsNamespace prefixes every metric the service exports.
const MetricsNamespace = "webtasks"

// Eviction reasons used as metric label values.
const (
	evictRead    = "read"
	evictExpired = "expired"
)

var (
	tasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks accepted by the registry.",
		},
	)

	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that reached a terminal state, by state.",
		},
		[]string{"state"},
	)

	tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "tasks_active",
			Help:      "Number of tasks currently in the running state.",
		},
	)

	tasksEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tasks_evicted_total",
			Help:      "Total number of tasks removed from the registry, by reason.",
		},
		[]string{"reason"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "task_duration_seconds",
			Help:      "Time from running to terminal state, in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one expiry sweep, in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksCompleted)
	prometheus.MustRegister(tasksActive)
	prometheus.MustRegister(tasksEvicted)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(sweepDuration)

	// Pre-initialize label combinations so they appear in /metrics with value 0.
	for _, s := range []model.State{model.StateFinished, model.StateFailed, model.StateCanceled} {
		tasksCompleted.WithLabelValues(string(s))
	}
	tasksEvicted.WithLabelValues(evictRead)
	tasksEvicted.WithLabelValues(evictExpired)
}
