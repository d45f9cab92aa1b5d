package devicesync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testState(id uuid.UUID, version int64, at time.Time) *limbic.State {
	return &limbic.State{
		CounterpartID: id,
		Version:       version,
		Values:        map[limbic.Variable]float64{limbic.VarWarmth: 0.5},
		Posture:       limbic.PostureNeutral,
		UpdatedAt:     at,
	}
}

func testEntry(id uuid.UUID, key, value string, version int64, at time.Time) *heritage.Entry {
	return &heritage.Entry{
		CounterpartID: id,
		Key:           key,
		Value:         value,
		Confidence:    0.9,
		EvidenceCount: 5,
		Source:        heritage.SourceDream,
		Version:       version,
		UpdatedAt:     at,
	}
}

func TestExportDelta_CursorsBySeq(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	now := time.Now().UTC()

	if err := store.CommitAffective(ctx, testState(id, 1, now)); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertHeritage(ctx, testEntry(id, "preference.greeting", "casual", 1, now)); err != nil {
		t.Fatal(err)
	}

	delta, err := mgr.ExportDelta(ctx, 0)
	if err != nil {
		t.Fatalf("ExportDelta: %v", err)
	}
	if len(delta.Affective) != 1 || len(delta.Heritage) != 1 {
		t.Fatalf("delta sizes = %d affective, %d heritage", len(delta.Affective), len(delta.Heritage))
	}
	if delta.MaxSeq <= delta.SinceSeq {
		t.Errorf("cursor did not advance: since %d max %d", delta.SinceSeq, delta.MaxSeq)
	}

	// Export from the returned cursor is empty until something changes.
	next, err := mgr.ExportDelta(ctx, delta.MaxSeq)
	if err != nil {
		t.Fatalf("ExportDelta: %v", err)
	}
	if len(next.Affective) != 0 || len(next.Heritage) != 0 {
		t.Errorf("second export not empty: %d affective, %d heritage", len(next.Affective), len(next.Heritage))
	}

	if err := store.UpsertHeritage(ctx, testEntry(id, "habit.morning_walk", "daily", 1, now)); err != nil {
		t.Fatal(err)
	}
	next, err = mgr.ExportDelta(ctx, delta.MaxSeq)
	if err != nil {
		t.Fatalf("ExportDelta: %v", err)
	}
	if len(next.Heritage) != 1 || next.Heritage[0].Entry.Key != "habit.morning_walk" {
		t.Errorf("incremental export missed the new entry: %+v", next.Heritage)
	}
}

func TestApplyDelta_NewRecordsApplyCleanly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	now := time.Now().UTC()

	report, err := mgr.ApplyDelta(ctx, &Delta{
		DeviceID:  "phone",
		Affective: []AffectiveRevision{{State: *testState(id, 3, now)}},
		Heritage:  []HeritageRevision{{Entry: *testEntry(id, "preference.greeting", "casual", 2, now)}},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if report.Applied != 2 || len(report.Conflicts) != 0 {
		t.Errorf("report = %+v, want 2 applied, no conflicts", report)
	}

	state, err := store.LatestAffective(ctx, id)
	if err != nil {
		t.Fatalf("LatestAffective: %v", err)
	}
	if state.Version != 3 {
		t.Errorf("state version = %d, want 3", state.Version)
	}
}

func TestApplyDelta_LastWriteWinsRetainsPrior(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	base := time.Now().UTC()

	if err := store.UpsertHeritage(ctx, testEntry(id, "preference.greeting", "formal", 2, base)); err != nil {
		t.Fatal(err)
	}

	remote := testEntry(id, "preference.greeting", "casual", 2, base.Add(time.Minute))
	report, err := mgr.ApplyDelta(ctx, &Delta{Heritage: []HeritageRevision{{Entry: *remote}}})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(report.Conflicts))
	}
	if report.Conflicts[0].Resolution != ResolutionRemoteApplied {
		t.Errorf("resolution = %q, want remote applied", report.Conflicts[0].Resolution)
	}

	merged, err := store.LatestHeritage(ctx, id, "preference.greeting")
	if err != nil {
		t.Fatal(err)
	}
	if merged.Value != "casual" {
		t.Errorf("merged value = %q, want the newer write", merged.Value)
	}

	// The losing version is recoverable from the prior-version log.
	priors, err := store.PriorVersions(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(priors) != 1 {
		t.Fatalf("got %d prior versions, want 1", len(priors))
	}
	var lost heritage.Entry
	if err := json.Unmarshal([]byte(priors[0].Payload), &lost); err != nil {
		t.Fatalf("prior payload: %v", err)
	}
	if lost.Value != "formal" {
		t.Errorf("retained value = %q, want the overwritten one", lost.Value)
	}
}

func TestApplyDelta_OlderRemoteKeepsLocal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	base := time.Now().UTC()

	if err := store.CommitAffective(ctx, testState(id, 5, base)); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.ApplyDelta(ctx, &Delta{
		Affective: []AffectiveRevision{{State: *testState(id, 4, base.Add(-time.Hour))}},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if report.Applied != 0 || report.Skipped != 1 {
		t.Errorf("report = %+v, want local kept", report)
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0].Resolution != ResolutionLocalKept {
		t.Errorf("conflicts = %+v, want one local_kept", report.Conflicts)
	}

	state, err := store.LatestAffective(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if state.Version != 5 {
		t.Errorf("local state displaced by stale remote: version %d", state.Version)
	}
}

func TestApplyDelta_IdenticalRevisionSkipsSilently(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	now := time.Now().UTC()

	entry := testEntry(id, "preference.greeting", "casual", 1, now)
	if err := store.UpsertHeritage(ctx, entry); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.ApplyDelta(ctx, &Delta{Heritage: []HeritageRevision{{Entry: *entry}}})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if report.Skipped != 1 || len(report.Conflicts) != 0 {
		t.Errorf("report = %+v, want one silent skip", report)
	}
}

func TestApplyDelta_NilDelta(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), nil, discardLogger())
	if _, err := mgr.ApplyDelta(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil delta")
	}
}

func TestRoundTrip_TwoStoresConverge(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryStore(), NewMemoryStore()
	mgrA := NewManager(a, nil, discardLogger())
	mgrB := NewManager(b, nil, discardLogger())
	id := uuid.New()
	now := time.Now().UTC()

	if err := a.CommitAffective(ctx, testState(id, 2, now)); err != nil {
		t.Fatal(err)
	}
	if err := a.UpsertHeritage(ctx, testEntry(id, "preference.greeting", "casual", 1, now)); err != nil {
		t.Fatal(err)
	}

	delta, err := mgrA.ExportDelta(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Deltas cross the wire serialized.
	raw, err := json.Marshal(delta)
	if err != nil {
		t.Fatal(err)
	}
	var wire Delta
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatal(err)
	}

	report, err := mgrB.ApplyDelta(ctx, &wire)
	if err != nil {
		t.Fatal(err)
	}
	if report.Applied != 2 {
		t.Fatalf("applied = %d, want 2", report.Applied)
	}

	got, err := b.LatestHeritage(ctx, id, "preference.greeting")
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != "casual" {
		t.Errorf("peer entry = %q", got.Value)
	}
}

// liveStore backs the sync manager's affective half with a shared
// limbic store, so a limbic engine can observe applied revisions.
type liveStore struct {
	*MemoryStore
	states *limbic.MemoryStateStore
}

func (s *liveStore) LatestAffective(ctx context.Context, counterpartID uuid.UUID) (*limbic.State, error) {
	return s.states.Latest(ctx, counterpartID)
}

func (s *liveStore) CommitAffective(ctx context.Context, state *limbic.State) error {
	return s.states.Commit(ctx, state)
}

func TestApplyDelta_SyncedStateVisibleToNextUpdate(t *testing.T) {
	ctx := context.Background()
	states := limbic.NewMemoryStateStore()
	store := &liveStore{MemoryStore: NewMemoryStore(), states: states}
	eng := limbic.NewEngine(states, limbic.Config{}, nil, discardLogger())
	id := uuid.New()

	// Seed populates the engine's in-process cache at version 1.
	if _, err := eng.Seed(ctx, id, nil); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(store, nil, discardLogger()).WithInvalidator(eng)
	remote := testState(id, 5, time.Now().UTC().Add(time.Minute))
	if _, err := mgr.ApplyDelta(ctx, &Delta{
		DeviceID:  "phone",
		Affective: []AffectiveRevision{{State: *remote}},
	}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	// The next update must build on the synced version 5, not the
	// stale cached version 1.
	next, err := eng.Update(ctx, id, limbic.TurnOutcome{Sentiment: 0.5})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.Version != 6 {
		t.Fatalf("update committed version %d, want 6 on top of the synced revision", next.Version)
	}

	latest, err := states.Latest(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 6 {
		t.Errorf("latest committed version = %d, want 6", latest.Version)
	}
}

func TestApplyDelta_VersionOutranksTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, discardLogger())
	id := uuid.New()
	base := time.Now().UTC()

	// Local has the newer wall clock but the older version; version wins.
	if err := store.CommitAffective(ctx, testState(id, 2, base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.ApplyDelta(ctx, &Delta{
		DeviceID:  "phone",
		Affective: []AffectiveRevision{{State: *testState(id, 5, base)}},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0].Resolution != ResolutionRemoteApplied {
		t.Fatalf("report = %+v, want one remote-applied conflict", report)
	}

	got, err := store.LatestAffective(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 5 {
		t.Errorf("merged version = %d, want 5", got.Version)
	}
}

func TestApplyDelta_DeviceIDBreaksFullTie(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	at := time.Now().UTC()

	// Same version, same timestamp, different values. The lexically
	// greater device id wins so both peers converge on one revision.
	local := testEntry(id, "preference.greeting", "formal", 3, at)
	remote := testEntry(id, "preference.greeting", "casual", 3, at)

	t.Run("remote device sorts higher", func(t *testing.T) {
		store := NewMemoryStore()
		mgr := NewManager(store, nil, discardLogger()).WithDeviceID("alpha")
		if err := store.UpsertHeritage(ctx, local); err != nil {
			t.Fatal(err)
		}

		report, err := mgr.ApplyDelta(ctx, &Delta{
			DeviceID: "zulu",
			Heritage: []HeritageRevision{{Entry: *remote}},
		})
		if err != nil {
			t.Fatalf("ApplyDelta: %v", err)
		}
		if len(report.Conflicts) != 1 || report.Conflicts[0].Resolution != ResolutionRemoteApplied {
			t.Fatalf("report = %+v, want remote applied", report)
		}
	})

	t.Run("local device sorts higher", func(t *testing.T) {
		store := NewMemoryStore()
		mgr := NewManager(store, nil, discardLogger()).WithDeviceID("zulu")
		if err := store.UpsertHeritage(ctx, local); err != nil {
			t.Fatal(err)
		}

		report, err := mgr.ApplyDelta(ctx, &Delta{
			DeviceID: "alpha",
			Heritage: []HeritageRevision{{Entry: *remote}},
		})
		if err != nil {
			t.Fatalf("ApplyDelta: %v", err)
		}
		if len(report.Conflicts) != 1 || report.Conflicts[0].Resolution != ResolutionLocalKept {
			t.Fatalf("report = %+v, want local kept", report)
		}

		got, err := store.LatestHeritage(ctx, id, "preference.greeting")
		if err != nil {
			t.Fatal(err)
		}
		if got.Value != "formal" {
			t.Errorf("kept value = %q, want the local write", got.Value)
		}
	})
}
