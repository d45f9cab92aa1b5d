package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/domain"
	"github.com/jkaninda/nafsi/internal/dream"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nafsi.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestStore_Driver(t *testing.T) {
	s := testStore(t)
	if got := s.Driver(); got != storage.DriverSQLite {
		t.Fatalf("Driver() = %q, want %q", got, storage.DriverSQLite)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCounterparts_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Counterparts()

	if _, err := repo.GetByExternalID(ctx, "cli-user"); !errors.Is(err, core.ErrCounterpartNotFound) {
		t.Fatalf("expected ErrCounterpartNotFound, got %v", err)
	}

	c := &domain.Counterpart{ID: domain.NewID(), ExternalID: "cli-user", Name: "Asha"}
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByExternalID(ctx, "cli-user")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.ID != c.ID || got.Name != "Asha" {
		t.Fatalf("got %+v", got)
	}
	byID, err := repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if byID.ExternalID != "cli-user" {
		t.Fatalf("ExternalID = %q", byID.ExternalID)
	}
}

func TestAffective_VersionedCommits(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Affective()
	id := uuid.New()

	if _, err := repo.Latest(ctx, id); !errors.Is(err, limbic.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	for v := int64(1); v <= 3; v++ {
		state := &limbic.State{
			CounterpartID: id,
			Version:       v,
			Values:        map[limbic.Variable]float64{limbic.VarWarmth: 0.1 * float64(v)},
			Posture:       limbic.PostureNeutral,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := repo.Commit(ctx, state); err != nil {
			t.Fatalf("Commit v%d: %v", v, err)
		}
	}

	latest, err := repo.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("Version = %d, want 3", latest.Version)
	}
	if got := latest.Values[limbic.VarWarmth]; got < 0.29 || got > 0.31 {
		t.Fatalf("warmth = %f", got)
	}

	// A duplicate version must be rejected so the prior commit stays
	// authoritative.
	dup := &limbic.State{CounterpartID: id, Version: 3, Values: map[limbic.Variable]float64{}, Posture: limbic.PostureNeutral}
	if err := repo.Commit(ctx, dup); err == nil {
		t.Fatal("expected duplicate version commit to fail")
	}

	ids, err := repo.ListCounterparts(ctx)
	if err != nil {
		t.Fatalf("ListCounterparts: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("ids = %v", ids)
	}
}

func TestHeritage_UpsertRetainsPriorVersions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Heritage()
	id := uuid.New()

	first := &heritage.Entry{CounterpartID: id, Key: "preference.greeting", Value: "formal", Confidence: 0.6, EvidenceCount: 3, Source: heritage.SourceDream}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("first Version = %d, want 1", first.Version)
	}

	second := &heritage.Entry{CounterpartID: id, Key: "preference.greeting", Value: "casual", Confidence: 0.8, EvidenceCount: 5, Source: heritage.SourceDream}
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("second Version = %d, want 2", second.Version)
	}

	got, err := repo.Get(ctx, id, "preference.greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "casual" || got.Version != 2 {
		t.Fatalf("got %+v", got)
	}

	// Both versions remain in the journal.
	revs, err := s.Sync().HeritageSince(ctx, 0)
	if err != nil {
		t.Fatalf("HeritageSince: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("journal has %d revisions, want 2", len(revs))
	}

	other := &heritage.Entry{CounterpartID: id, Key: "habit.evening_checkin", Value: "daily around 21:00", Confidence: 0.7, EvidenceCount: 4, Source: heritage.SourceDream}
	if err := repo.Upsert(ctx, other); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	list, err := repo.List(ctx, id)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
	if list[0].Key != "habit.evening_checkin" || list[1].Key != "preference.greeting" {
		t.Fatalf("keys out of order: %q, %q", list[0].Key, list[1].Key)
	}
	if list[1].Value != "casual" {
		t.Fatalf("stale version surfaced: %+v", list[1])
	}
}

func TestMemories_AppendAndWindows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Memories()
	id := uuid.New()

	var recs []*memory.Record
	for i := 0; i < 4; i++ {
		rec := &memory.Record{
			ID:            uuid.New(),
			CounterpartID: id,
			Timestamp:     time.Now().UTC(),
			Embedding:     []float32{0.1, 0.2, 0.3},
			Text:          "entry",
			Salience:      0.5,
			Participant:   memory.ParticipantCounterpart,
		}
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if rec.Seq == 0 {
			t.Fatal("Append did not assign Seq")
		}
		recs = append(recs, rec)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Seq <= recs[i-1].Seq {
			t.Fatalf("Seq not monotonic: %d then %d", recs[i-1].Seq, recs[i].Seq)
		}
	}

	got, err := repo.Get(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("embedding lost: %v", got.Embedding)
	}

	if err := repo.MarkStale(ctx, []uuid.UUID{recs[1].ID}); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}

	recent, err := repo.Recent(ctx, id, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d, want 3 (stale excluded)", len(recent))
	}
	if recent[0].Seq < recent[1].Seq {
		t.Fatal("Recent not newest-first")
	}

	window, err := repo.Window(ctx, id, recs[0].Seq, 10)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("Window returned %d, want 3 (stale included)", len(window))
	}
	if !window[0].Stale {
		t.Fatal("expected first window record to be the stale one")
	}

	if _, err := repo.Get(ctx, uuid.New()); !errors.Is(err, memory.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestTrustAndActions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	trust := s.Trust()
	if _, err := trust.Latest(ctx, id); !errors.Is(err, agency.ErrTrustNotFound) {
		t.Fatalf("expected ErrTrustNotFound, got %v", err)
	}
	state := &agency.TrustState{CounterpartID: id, Tier: agency.TierMin, Score: 10, Version: 1, UpdatedAt: time.Now().UTC()}
	if err := trust.Commit(ctx, state); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	state.Version = 2
	state.Score = 30
	if err := trust.Commit(ctx, state); err != nil {
		t.Fatalf("Commit v2: %v", err)
	}
	latest, err := trust.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != 2 || latest.Score != 30 {
		t.Fatalf("latest = %+v", latest)
	}

	actions := s.Actions()
	rec := &agency.ActionRecord{
		ID:            uuid.New(),
		CounterpartID: id,
		Category:      "memory",
		Name:          "note",
		Parameters:    map[string]any{"text": "water the basil"},
		Output:        "noted",
		Rollback:      `{"op":"delete"}`,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := actions.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := actions.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Parameters["text"] != "water the basil" || got.RolledBackAt != nil {
		t.Fatalf("got %+v", got)
	}
	if err := actions.MarkRolledBack(ctx, rec.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkRolledBack: %v", err)
	}
	got, _ = actions.Get(ctx, rec.ID)
	if got.RolledBackAt == nil {
		t.Fatal("RolledBackAt not set")
	}
	if err := actions.MarkRolledBack(ctx, uuid.New(), time.Now()); !errors.Is(err, agency.ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}

	audit := s.Audit()
	for i := 0; i < 3; i++ {
		event := &agency.AuditEvent{
			ID:            uuid.New(),
			CounterpartID: id,
			Category:      "memory",
			Name:          "note",
			Decision:      agency.DecisionAllow,
			CreatedAt:     time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := audit.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events, err := audit.List(ctx, id, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("List returned %d, want 2", len(events))
	}
	if events[0].CreatedAt.Before(events[1].CreatedAt) {
		t.Fatal("audit log not newest-first")
	}
}

func TestHypothesesAndWatermark(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Hypotheses()
	id := uuid.New()

	if _, err := repo.GetByKey(ctx, id, "topic.garden"); !errors.Is(err, dream.ErrHypothesisNotFound) {
		t.Fatalf("expected ErrHypothesisNotFound, got %v", err)
	}

	h := &dream.Hypothesis{
		ID:            uuid.New(),
		CounterpartID: id,
		Key:           "topic.garden",
		Claim:         "often talks about the garden",
		Confidence:    0.4,
		Supporting:    3,
		Status:        dream.StatusCandidate,
		EvidenceIDs:   []uuid.UUID{uuid.New(), uuid.New()},
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repo.Upsert(ctx, h); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	h.Confidence = 0.75
	h.Supporting = 6
	h.Version = 2
	if err := repo.Upsert(ctx, h); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	got, err := repo.GetByKey(ctx, id, "topic.garden")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if got.Version != 2 || got.Supporting != 6 || len(got.EvidenceIDs) != 2 {
		t.Fatalf("got %+v", got)
	}

	list, err := repo.List(ctx, id)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List returned %d, want 1 (upsert must not duplicate)", len(list))
	}

	if seq, _ := repo.Watermark(ctx, id); seq != 0 {
		t.Fatalf("fresh watermark = %d, want 0", seq)
	}
	if err := repo.SetWatermark(ctx, id, 42); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}
	if err := repo.SetWatermark(ctx, id, 99); err != nil {
		t.Fatalf("SetWatermark update: %v", err)
	}
	if seq, _ := repo.Watermark(ctx, id); seq != 99 {
		t.Fatalf("watermark = %d, want 99", seq)
	}
}

func TestLeases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Leases()

	ok, err := repo.Acquire(ctx, "dream", "node-a", time.Hour)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	// Re-acquire by the same owner extends the lease.
	if ok, _ := repo.Acquire(ctx, "dream", "node-a", time.Hour); !ok {
		t.Fatal("same owner could not re-acquire")
	}
	if ok, _ := repo.Acquire(ctx, "dream", "node-b", time.Hour); ok {
		t.Fatal("second owner acquired a live lease")
	}
	if err := repo.Release(ctx, "dream", "node-b"); err != nil {
		t.Fatalf("Release by non-owner: %v", err)
	}
	if ok, _ := repo.Acquire(ctx, "dream", "node-b", time.Hour); ok {
		t.Fatal("release by non-owner freed the lease")
	}
	if err := repo.Release(ctx, "dream", "node-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := repo.Acquire(ctx, "dream", "node-b", time.Hour); !ok {
		t.Fatal("lease not acquirable after release")
	}

	// An expired lease is free for the taking.
	if ok, _ := repo.Acquire(ctx, "sweep", "node-a", -time.Second); !ok {
		t.Fatal("Acquire sweep")
	}
	if ok, _ := repo.Acquire(ctx, "sweep", "node-b", time.Hour); !ok {
		t.Fatal("expired lease not taken over")
	}
}

func TestSyncJournal_CursorSpansTables(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	if seq, err := s.Sync().MaxSeq(ctx); err != nil || seq != 0 {
		t.Fatalf("fresh MaxSeq = %d, %v", seq, err)
	}

	state := &limbic.State{CounterpartID: id, Version: 1, Values: map[limbic.Variable]float64{limbic.VarTrust: 0.2}, Posture: limbic.PostureNeutral, UpdatedAt: time.Now().UTC()}
	if err := s.Affective().Commit(ctx, state); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	entry := &heritage.Entry{CounterpartID: id, Key: "preference.topic", Value: "gardening", Confidence: 0.9, EvidenceCount: 4, Source: heritage.SourceDream}
	if err := s.Heritage().Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	max, err := s.Sync().MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq: %v", err)
	}
	if max != 2 {
		t.Fatalf("MaxSeq = %d, want 2 (one counter across both tables)", max)
	}

	aff, err := s.Sync().AffectiveSince(ctx, 0)
	if err != nil {
		t.Fatalf("AffectiveSince: %v", err)
	}
	her, err := s.Sync().HeritageSince(ctx, 0)
	if err != nil {
		t.Fatalf("HeritageSince: %v", err)
	}
	if len(aff) != 1 || len(her) != 1 {
		t.Fatalf("journal sizes = %d affective, %d heritage", len(aff), len(her))
	}
	if aff[0].Seq == her[0].Seq {
		t.Fatal("revisions share a sequence number")
	}

	// Incremental export from the cursor sees nothing new.
	if revs, _ := s.Sync().AffectiveSince(ctx, max); len(revs) != 0 {
		t.Fatalf("expected empty incremental export, got %d", len(revs))
	}
}
