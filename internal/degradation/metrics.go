package degradation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the degradation supervisor.
type Metrics struct {
	Level         prometheus.Gauge
	Transitions   *prometheus.CounterVec
	ProbeFailures *prometheus.CounterVec
}

// NewMetrics creates and registers supervisor metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nafsi",
			Subsystem: "degradation",
			Name:      "capability_level",
			Help:      "Current capability level (3=FULL, 2=REDUCED, 1=MINIMAL, 0=UNAVAILABLE).",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "degradation",
			Name:      "transitions_total",
			Help:      "Capability level transitions by direction.",
		}, []string{"from", "to"}),
		ProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "degradation",
			Name:      "probe_failures_total",
			Help:      "Failed dependency probes by dependency.",
		}, []string{"dependency"}),
	}

	reg.MustRegister(m.Level, m.Transitions, m.ProbeFailures)
	return m
}

func (m *Metrics) observeLevel(level Capability) {
	if m == nil {
		return
	}
	m.Level.Set(float64(level))
}

func (m *Metrics) observeTransition(from, to Capability) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) observeProbeFailure(dep Dependency) {
	if m == nil {
		return
	}
	m.ProbeFailures.WithLabelValues(string(dep)).Inc()
}
