package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for the execution pipeline.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	VideosStored      prometheus.Counter
	ScheduledSweeps   prometheus.Counter
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runnoor",
			Name:      "executions_total",
			Help:      "Test executions by status and browser.",
		}, []string{"status", "browser"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runnoor",
			Name:      "execution_duration_seconds",
			Help:      "Wall clock duration of test executions.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"browser"}),
		VideosStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnoor",
			Name:      "videos_stored_total",
			Help:      "Videos copied into durable storage.",
		}),
		ScheduledSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnoor",
			Name:      "scheduled_sweeps_total",
			Help:      "Scheduled whole project sweeps started.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.VideosStored,
		m.ScheduledSweeps,
	)

	return m
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(status, browser string, seconds float64) {
	m.ExecutionsTotal.WithLabelValues(status, browser).Inc()
	m.ExecutionDuration.WithLabelValues(browser).Observe(seconds)
}
