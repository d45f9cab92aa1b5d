package devicesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics for the sync interface. A nil *Metrics disables collection.
type Metrics struct {
	Exports           prometheus.Counter
	ExportedRevisions prometheus.Counter
	Applies           prometheus.Counter
	AppliedRevisions  prometheus.Counter
	Conflicts         *prometheus.CounterVec
}

// NewMetrics registers sync metrics on reg. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Exports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "devicesync",
			Name:      "exports_total",
			Help:      "Delta exports served.",
		}),
		ExportedRevisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "devicesync",
			Name:      "exported_revisions_total",
			Help:      "Revisions included in exported deltas.",
		}),
		Applies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "devicesync",
			Name:      "applies_total",
			Help:      "Deltas applied from peers.",
		}),
		AppliedRevisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "devicesync",
			Name:      "applied_revisions_total",
			Help:      "Revisions merged from peer deltas.",
		}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "devicesync",
			Name:      "conflicts_total",
			Help:      "Merge conflicts, by resolution.",
		}, []string{"resolution"}),
	}
	reg.MustRegister(m.Exports, m.ExportedRevisions, m.Applies, m.AppliedRevisions, m.Conflicts)
	return m
}

func (m *Metrics) observeExport(revisions int) {
	if m == nil {
		return
	}
	m.Exports.Inc()
	m.ExportedRevisions.Add(float64(revisions))
}

func (m *Metrics) observeApply(report *ConflictReport) {
	if m == nil {
		return
	}
	m.Applies.Inc()
	m.AppliedRevisions.Add(float64(report.Applied))
	for _, c := range report.Conflicts {
		m.Conflicts.WithLabelValues(c.Resolution).Inc()
	}
}
