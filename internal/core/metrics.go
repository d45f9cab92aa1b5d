package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for the turn pipeline. A nil *Metrics disables collection.
type Metrics struct {
	Turns        *prometheus.CounterVec
	TurnDuration prometheus.Histogram
}

// NewMetrics registers turn metrics on reg. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "core",
			Name:      "turns_total",
			Help:      "Turns processed, by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nafsi",
			Subsystem: "core",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.Turns, m.TurnDuration)
	return m
}

func (m *Metrics) observeTurn(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.TurnDuration.Observe(elapsed.Seconds())
	}
}
