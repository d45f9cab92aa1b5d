package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdd_InvalidSpec(t *testing.T) {
	s := New(nil, discardLogger())
	err := s.Add(context.Background(), Job{Name: "bad", Spec: "not a cron spec", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	s := New(nil, discardLogger())
	var runs atomic.Int64
	// @every is the only spec granular enough to observe in a test.
	err := s.Add(context.Background(), Job{
		Name: "tick",
		Spec: "@every 10ms",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	stop := s.Start(context.Background())
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
}

func TestScheduler_SlowJobDoesNotOverlap(t *testing.T) {
	s := New(nil, discardLogger())
	var concurrent, peak atomic.Int64
	release := make(chan struct{})

	err := s.Add(context.Background(), Job{
		Name: "slow",
		Spec: "@every 10ms",
		Run: func(ctx context.Context) error {
			n := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			return errors.New("slow failure")
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	stop := s.Start(context.Background())
	// Let several slots fire while the first run blocks.
	time.Sleep(100 * time.Millisecond)
	close(release)
	stop()

	if peak.Load() > 1 {
		t.Errorf("job overlapped itself: peak concurrency %d", peak.Load())
	}
}
