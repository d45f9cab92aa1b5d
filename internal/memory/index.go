package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Index is the episodic memory index: durable store underneath, working
// buffer on top, MMR retrieval in front. Multi-writer append, multi-reader
// retrieve; no locking beyond the buffer's own.
type Index struct {
	store   Store
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	working map[uuid.UUID]*workingBuffer // Per-counterpart buffers.
}

// NewIndex creates a memory index. Metrics may be nil.
func NewIndex(store Store, cfg Config, metrics *Metrics, logger *slog.Logger) *Index {
	return &Index{
		store:   store,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		working: make(map[uuid.UUID]*workingBuffer),
	}
}

// Observe appends a new episodic record and admits it to the working
// buffer. The record must be durable before the turn that produced it
// completes, so Append errors propagate to the caller.
func (x *Index) Observe(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := x.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("appending memory record: %w", err)
	}
	x.buffer(rec.CounterpartID).add(rec)

	if x.metrics != nil {
		x.metrics.RecordsStored.Inc()
	}
	return nil
}

// Retrieve returns up to k records relevant to the query embedding,
// reranked for diversity. diversityWeight is the MMR lambda in [0,1];
// pass a negative value to use the configured default.
//
// The working buffer is scanned first: live recent records always join
// the candidate set, so very recent context cannot be displaced by the
// scan limit.
func (x *Index) Retrieve(ctx context.Context, counterpartID uuid.UUID, query []float32, k int, diversityWeight float64) ([]Record, error) {
	if k <= 0 {
		return nil, nil
	}
	lambda := diversityWeight
	if lambda < 0 {
		lambda = x.config.Lambda()
	}
	if lambda > 1 {
		lambda = 1
	}

	start := time.Now()

	// Working-memory short-circuit: buffer entries are candidates for free.
	seen := make(map[uuid.UUID]bool)
	var cands []scored
	for _, rec := range x.buffer(counterpartID).snapshot() {
		if rec.Stale {
			continue
		}
		seen[rec.ID] = true
		cands = append(cands, scored{rec: *rec, relevance: CosineSimilarity(query, rec.Embedding)})
	}

	recent, err := x.store.Recent(ctx, counterpartID, x.config.candidateScan())
	if err != nil {
		return nil, fmt.Errorf("scanning memory candidates: %w", err)
	}
	for i := range recent {
		if seen[recent[i].ID] {
			continue
		}
		cands = append(cands, scored{rec: recent[i], relevance: CosineSimilarity(query, recent[i].Embedding)})
	}

	rankByRelevance(cands)

	// Oversized candidate set for the reranker.
	topN := x.config.candidateFactor() * k
	if topN > len(cands) {
		topN = len(cands)
	}
	out := rerankMMR(cands[:topN], k, lambda, x.config.similarityCeil())

	if x.metrics != nil {
		x.metrics.Retrievals.Inc()
		x.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
		x.metrics.CandidatesScanned.Observe(float64(len(cands)))
	}
	x.logger.DebugContext(ctx, "memory retrieval",
		slog.String("counterpart_id", counterpartID.String()),
		slog.Int("candidates", len(cands)),
		slog.Int("returned", len(out)),
		slog.Float64("lambda", lambda),
	)
	return out, nil
}

// Sweep runs working-memory hygiene: durable records older than the
// working max age are marked stale and dropped from the buffer. Runs on
// a schedule; also worth calling when a buffer crosses its size bound.
func (x *Index) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-x.config.workingMaxAge())

	x.mu.Lock()
	buffers := make(map[uuid.UUID]*workingBuffer, len(x.working))
	for id, b := range x.working {
		buffers[id] = b
	}
	x.mu.Unlock()

	var stale []uuid.UUID
	for _, buf := range buffers {
		for _, rec := range buf.snapshot() {
			if rec.Timestamp.Before(cutoff) {
				stale = append(stale, rec.ID)
				buf.markStale(rec.ID)
			}
		}
	}
	if len(stale) == 0 {
		return nil
	}

	if err := x.store.MarkStale(ctx, stale); err != nil {
		return fmt.Errorf("marking %d records stale: %w", len(stale), err)
	}
	if x.metrics != nil {
		x.metrics.SweptStale.Add(float64(len(stale)))
	}
	x.logger.DebugContext(ctx, "working memory swept", slog.Int("stale", len(stale)))
	return nil
}

// WorkingLen reports the live working-buffer size for a counterpart.
func (x *Index) WorkingLen(counterpartID uuid.UUID) int {
	return x.buffer(counterpartID).len()
}

func (x *Index) buffer(counterpartID uuid.UUID) *workingBuffer {
	x.mu.Lock()
	defer x.mu.Unlock()

	b, ok := x.working[counterpartID]
	if !ok {
		b = newWorkingBuffer(x.config.workingSize(), x.config.workingMaxAge())
		x.working[counterpartID] = b
	}
	return b
}
