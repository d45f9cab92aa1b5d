package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("unlimited limiter refused request %d: %v", i, err)
		}
	}
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("request %d within burst refused: %v", i, err)
		}
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestAllow_BucketsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("counterpart b blocked by a's exhausted bucket: %v", err)
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 6000, BurstSize: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// 100 tokens/sec; 50ms is plenty for one token.
	time.Sleep(50 * time.Millisecond)
	if err := l.Allow("a"); err != nil {
		t.Errorf("bucket did not refill: %v", err)
	}
}

func TestPrune(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60})
	_ = l.Allow("a")
	_ = l.Allow("b")
	if got := l.Prune(0); got != 2 {
		t.Errorf("pruned %d buckets, want 2", got)
	}
	if got := l.Prune(time.Hour); got != 0 {
		t.Errorf("pruned %d buckets from empty limiter", got)
	}
}
