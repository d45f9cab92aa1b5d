package agency

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the agency gate.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Rollbacks *prometheus.CounterVec
	TrustTier *prometheus.GaugeVec
	Outcomes  *prometheus.CounterVec
}

// NewMetrics creates and registers agency metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{}
	if reg == nil {
		return nil
	}

	m.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nafsi",
		Subsystem: "agency",
		Name:      "decisions_total",
		Help:      "Gate rulings by action category and decision.",
	}, []string{"category", "decision"})
	m.Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nafsi",
		Subsystem: "agency",
		Name:      "rollbacks_total",
		Help:      "Executed rollbacks by action category.",
	}, []string{"category"})
	m.TrustTier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nafsi",
		Subsystem: "agency",
		Name:      "trust_tier",
		Help:      "Current trust tier per counterpart.",
	}, []string{"counterpart_id"})
	m.Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nafsi",
		Subsystem: "agency",
		Name:      "trust_outcomes_total",
		Help:      "Trust scoring outcomes.",
	}, []string{"outcome"})

	reg.MustRegister(m.Decisions, m.Rollbacks, m.TrustTier, m.Outcomes)
	return m
}

func (m *Metrics) observeDecision(category string, d Decision) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(category, string(d)).Inc()
}

func (m *Metrics) observeRollback(category string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(category).Inc()
}

func (m *Metrics) observeTrust(state *TrustState, outcome Outcome) {
	if m == nil {
		return
	}
	m.TrustTier.WithLabelValues(state.CounterpartID.String()).Set(float64(state.Tier))
	m.Outcomes.WithLabelValues(string(outcome)).Inc()
}
