package dream

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the dream cycle.
type Metrics struct {
	Runs       *prometheus.CounterVec
	Hypotheses *prometheus.CounterVec
}

// NewMetrics creates and registers dream cycle metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "dream",
			Name:      "runs_total",
			Help:      "Dream cycle runs by outcome (completed, skipped, failed).",
		}, []string{"outcome"}),
		Hypotheses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "dream",
			Name:      "hypothesis_transitions_total",
			Help:      "Hypothesis lifecycle transitions by resulting status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.Runs, m.Hypotheses)
	return m
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeHypothesis(status HypothesisStatus) {
	if m == nil {
		return
	}
	m.Hypotheses.WithLabelValues(string(status)).Inc()
}
