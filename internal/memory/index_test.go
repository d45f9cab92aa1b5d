package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testIndex(t *testing.T, cfg Config) (*Index, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewIndex(store, cfg, nil, slog.Default()), store
}

func observe(t *testing.T, x *Index, cid uuid.UUID, text string, emb []float32, age time.Duration) *Record {
	t.Helper()
	rec := &Record{
		CounterpartID: cid,
		Timestamp:     time.Now().UTC().Add(-age),
		Embedding:     emb,
		Text:          text,
		Salience:      0.5,
		Participant:   ParticipantCounterpart,
	}
	if err := x.Observe(context.Background(), rec); err != nil {
		t.Fatalf("Observe(%q) error: %v", text, err)
	}
	return rec
}

func TestObserve_AssignsSeqAndBuffers(t *testing.T) {
	x, store := testIndex(t, Config{})
	cid := uuid.New()

	a := observe(t, x, cid, "a", vec(1, 0), 0)
	b := observe(t, x, cid, "b", vec(0, 1), 0)

	if a.Seq == 0 || b.Seq <= a.Seq {
		t.Errorf("sequence not monotonic: a=%d b=%d", a.Seq, b.Seq)
	}
	if got := x.WorkingLen(cid); got != 2 {
		t.Errorf("WorkingLen = %d, want 2", got)
	}

	stored, err := store.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Text != "a" {
		t.Errorf("stored text = %q, want %q", stored.Text, "a")
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	x, _ := testIndex(t, Config{})
	cid := uuid.New()

	observe(t, x, cid, "coffee", vec(1, 0, 0), time.Minute)
	observe(t, x, cid, "tea", vec(0.9, 0.1, 0), 2*time.Minute)
	observe(t, x, cid, "weather", vec(0, 1, 0), 3*time.Minute)
	observe(t, x, cid, "music", vec(0, 0, 1), 4*time.Minute)

	first, err := x.Retrieve(context.Background(), cid, vec(1, 0, 0), 3, 0.5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := x.Retrieve(context.Background(), cid, vec(1, 0, 0), 3, 0.5)
		if err != nil {
			t.Fatalf("Retrieve() error: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result length changed: %d != %d", len(again), len(first))
		}
		for j := range again {
			if again[j].ID != first[j].ID {
				t.Fatalf("call %d: position %d changed: %s != %s", i, j, again[j].ID, first[j].ID)
			}
		}
	}
}

func TestRetrieve_ZeroLambdaMatchesSimilarityOrder(t *testing.T) {
	x, _ := testIndex(t, Config{})
	cid := uuid.New()

	observe(t, x, cid, "exact", vec(1, 0), time.Minute)
	observe(t, x, cid, "close", vec(0.9, 0.4), time.Minute)
	observe(t, x, cid, "far", vec(0, 1), time.Minute)

	got, err := x.Retrieve(context.Background(), cid, vec(1, 0), 3, 0)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	want := []string{"exact", "close", "far"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("position %d = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestRetrieve_ExcludesStale(t *testing.T) {
	x, store := testIndex(t, Config{WorkingMaxAgeS: 60})
	cid := uuid.New()

	old := observe(t, x, cid, "old", vec(1, 0), 10*time.Minute)
	observe(t, x, cid, "fresh", vec(1, 0), 0)

	if err := x.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}

	got, err := x.Retrieve(context.Background(), cid, vec(1, 0), 10, 0)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	for _, r := range got {
		if r.ID == old.ID {
			t.Error("stale record returned by retrieval")
		}
	}

	// Durable record survives for mining.
	stored, err := store.Get(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("Get() after sweep error: %v", err)
	}
	if !stored.Stale {
		t.Error("swept record not marked stale in durable store")
	}

	window, err := store.Window(context.Background(), cid, 0, 100)
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("mining window len = %d, want 2 (stale records included)", len(window))
	}
}

func TestRetrieve_KZero(t *testing.T) {
	x, _ := testIndex(t, Config{})
	got, err := x.Retrieve(context.Background(), uuid.New(), vec(1), 0, 0.5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if got != nil {
		t.Errorf("Retrieve(k=0) = %v, want nil", got)
	}
}
