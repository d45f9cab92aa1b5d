package limbic

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the affective engine.
type Metrics struct {
	Updates    prometheus.Counter
	DecayTicks prometheus.Counter
	Valence    prometheus.Gauge
	Postures   *prometheus.CounterVec
}

// NewMetrics creates and registers affective engine metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "limbic",
			Name:      "updates_total",
			Help:      "Total committed affective state updates.",
		}),
		DecayTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "limbic",
			Name:      "decay_ticks_total",
			Help:      "Total idle decay ticks executed.",
		}),
		Valence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nafsi",
			Subsystem: "limbic",
			Name:      "valence",
			Help:      "Valence of the most recently committed state.",
		}),
		Postures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "limbic",
			Name:      "postures_total",
			Help:      "Committed states by classified posture.",
		}, []string{"posture"}),
	}

	reg.MustRegister(m.Updates, m.DecayTicks, m.Valence, m.Postures)
	return m
}

func (m *Metrics) observeState(s *State) {
	m.Valence.Set(s.Get(VarValence))
	m.Postures.WithLabelValues(string(s.Posture)).Inc()
}
