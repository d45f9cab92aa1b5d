package monologue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the deliberation engine.
type Metrics struct {
	Deliberations       *prometheus.CounterVec
	PerspectiveFailures *prometheus.CounterVec
	Duration            prometheus.Histogram
}

// NewMetrics creates and registers deliberation metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Deliberations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "monologue",
			Name:      "deliberations_total",
			Help:      "Deliberations by outcome (converged, overridden, exhausted).",
		}, []string{"outcome"}),
		PerspectiveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "monologue",
			Name:      "perspective_failures_total",
			Help:      "Perspective evaluation failures by stance.",
		}, []string{"perspective"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nafsi",
			Subsystem: "monologue",
			Name:      "deliberation_duration_seconds",
			Help:      "End-to-end deliberation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	reg.MustRegister(m.Deliberations, m.PerspectiveFailures, m.Duration)
	return m
}

func (m *Metrics) observeDeliberation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Deliberations.WithLabelValues(outcome).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observePerspectiveFailure(p Perspective) {
	if m == nil {
		return
	}
	m.PerspectiveFailures.WithLabelValues(string(p)).Inc()
}
