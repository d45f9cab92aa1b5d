// Package scheduler runs the background loops on cron schedules: the dream
// cycle, working-memory hygiene sweeps, and idle affect decay. Jobs do not
// overlap themselves; a job still running when its next slot fires skips
// that slot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named background loop.
type Job struct {
	Name string
	Spec string // Five-field cron expression.
	Run  func(ctx context.Context) error
}

// Scheduler drives registered jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	metrics *Metrics
	logger  *slog.Logger
}

// New creates an empty Scheduler.
func New(metrics *Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		metrics: metrics,
		logger:  logger,
	}
}

// Add registers a job. Returns an error for an invalid cron spec.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(job.Spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.metrics.observeSkip(job.Name)
			s.logger.WarnContext(ctx, "job still running, skipping slot",
				slog.String("job", job.Name),
			)
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(ctx)
		elapsed := time.Since(start)
		s.metrics.observeRun(job.Name, err, elapsed)

		if err != nil {
			s.logger.ErrorContext(ctx, "background job failed",
				slog.String("job", job.Name),
				slog.Any("error", err),
				slog.Duration("elapsed", elapsed),
			)
			return
		}
		s.logger.DebugContext(ctx, "background job completed",
			slog.String("job", job.Name),
			slog.Duration("elapsed", elapsed),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduling %q (%q): %w", job.Name, job.Spec, err)
	}
	return nil
}

// Start begins the schedule. Returns a stop function that waits for any
// in-flight job to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	s.cron.Start()

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	}
}
