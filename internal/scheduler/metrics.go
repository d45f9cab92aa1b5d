package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the background scheduler.
type Metrics struct {
	Runs        *prometheus.CounterVec
	Skips       *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Background job runs, by job and status.",
		}, []string{"job", "status"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "scheduler",
			Name:      "skips_total",
			Help:      "Slots skipped because the previous run was still in flight.",
		}, []string{"job"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nafsi",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Background job run duration.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"job"}),
	}

	reg.MustRegister(m.Runs, m.Skips, m.RunDuration)
	return m
}

func (m *Metrics) observeRun(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Runs.WithLabelValues(job, status).Inc()
	m.RunDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) observeSkip(job string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(job).Inc()
}
