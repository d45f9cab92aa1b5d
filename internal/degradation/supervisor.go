package degradation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultProbeInterval  = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultProbeThreshold = 3
)

// Probe checks the health of one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// depState tracks one dependency's debounced health.
type depState struct {
	probe   Probe
	healthy bool
	// streak counts consecutive probe results contradicting the current
	// healthy flag. The flag flips only when streak reaches the threshold,
	// in either direction.
	streak int
}

// Supervisor probes dependencies on an interval and derives the capability
// level from their debounced health.
type Supervisor struct {
	mu        sync.RWMutex
	deps      map[Dependency]*depState
	level     Capability
	interval  time.Duration
	timeout   time.Duration
	threshold int
	metrics   *Metrics
	logger    *slog.Logger
}

// SupervisorOption configures the supervisor.
type SupervisorOption func(*Supervisor)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.interval = d }
}

// WithThreshold sets how many consecutive contradicting probes a dependency
// needs before its health flips.
func WithThreshold(n int) SupervisorOption {
	return func(s *Supervisor) { s.threshold = n }
}

// WithProbeTimeout sets the per-probe deadline.
func WithProbeTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.timeout = d }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// NewSupervisor creates a supervisor with no probes registered. Dependencies
// start healthy and the level starts at FULL.
func NewSupervisor(logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		deps:      make(map[Dependency]*depState),
		level:     CapabilityFull,
		interval:  defaultProbeInterval,
		timeout:   defaultProbeTimeout,
		threshold: defaultProbeThreshold,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddProbe registers a dependency probe. Not safe to call after Run starts.
func (s *Supervisor) AddProbe(dep Dependency, probe Probe) {
	s.deps[dep] = &depState{probe: probe, healthy: true}
}

// Level returns the current capability level.
func (s *Supervisor) Level() Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Healthy reports the debounced health of one dependency.
func (s *Supervisor) Healthy(dep Dependency) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deps[dep]
	return ok && d.healthy
}

// Run probes on the configured interval until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("degradation supervisor started",
		slog.Duration("interval", s.interval),
		slog.Int("threshold", s.threshold),
		slog.Int("probes", len(s.deps)),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("degradation supervisor stopped")
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

// probeOnce runs every probe and recomputes the level.
func (s *Supervisor) probeOnce(ctx context.Context) {
	results := make(map[Dependency]bool, len(s.deps))
	for dep, d := range s.deps {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := d.probe(probeCtx)
		cancel()
		results[dep] = err == nil
		if err != nil {
			s.metrics.observeProbeFailure(dep)
			s.logger.Debug("dependency probe failed",
				slog.String("dependency", string(dep)),
				slog.Any("error", err),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unhealthy := make(map[Dependency]bool)
	for dep, d := range s.deps {
		s.record(dep, d, results[dep])
		if !d.healthy {
			unhealthy[dep] = true
		}
	}

	next := impliedLevel(unhealthy)
	if next != s.level {
		s.logger.Warn("capability level changed",
			slog.String("from", s.level.String()),
			slog.String("to", next.String()),
		)
		s.metrics.observeTransition(s.level, next)
		s.level = next
	}
	s.metrics.observeLevel(s.level)
}

// record debounces one probe result. The health flag flips only after
// threshold consecutive contradicting results.
func (s *Supervisor) record(dep Dependency, d *depState, ok bool) {
	if ok == d.healthy {
		d.streak = 0
		return
	}
	d.streak++
	if d.streak < s.threshold {
		return
	}
	d.healthy = ok
	d.streak = 0
	s.logger.Info("dependency health changed",
		slog.String("dependency", string(dep)),
		slog.Bool("healthy", ok),
	)
}
