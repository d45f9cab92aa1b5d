package memory

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the memory index.
type Metrics struct {
	RecordsStored     prometheus.Counter
	Retrievals        prometheus.Counter
	SweptStale        prometheus.Counter
	RetrievalDuration prometheus.Histogram
	CandidatesScanned prometheus.Histogram
}

// NewMetrics creates and registers memory index metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "memory",
			Name:      "records_stored_total",
			Help:      "Total episodic records appended.",
		}),
		Retrievals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "memory",
			Name:      "retrievals_total",
			Help:      "Total retrieval calls.",
		}),
		SweptStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nafsi",
			Subsystem: "memory",
			Name:      "swept_stale_total",
			Help:      "Total records marked stale by hygiene sweeps.",
		}),
		RetrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nafsi",
			Subsystem: "memory",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of each retrieval (scan + rerank).",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		CandidatesScanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nafsi",
			Subsystem: "memory",
			Name:      "candidates_scanned",
			Help:      "Candidate records considered per retrieval.",
			Buckets:   []float64{8, 32, 128, 512, 1024, 4096},
		}),
	}

	reg.MustRegister(
		m.RecordsStored,
		m.Retrievals,
		m.SweptStale,
		m.RetrievalDuration,
		m.CandidatesScanned,
	)
	return m
}
