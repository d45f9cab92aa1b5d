package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// workingBuffer is the bounded, recency-biased buffer checked before
// full retrieval. Backed by a size- and TTL-bounded LRU; eviction from
// the buffer never touches the durable record.
type workingBuffer struct {
	lru *expirable.LRU[uuid.UUID, *Record]
}

func newWorkingBuffer(size int, maxAge time.Duration) *workingBuffer {
	return &workingBuffer{
		lru: expirable.NewLRU[uuid.UUID, *Record](size, nil, maxAge),
	}
}

// add inserts a record into the buffer.
func (w *workingBuffer) add(rec *Record) {
	w.lru.Add(rec.ID, rec)
}

// snapshot returns the live buffer entries, oldest first.
func (w *workingBuffer) snapshot() []*Record {
	return w.lru.Values()
}

// markStale drops a record from the buffer. The durable row keeps
// existing for dream-cycle mining.
func (w *workingBuffer) markStale(id uuid.UUID) {
	w.lru.Remove(id)
}

// len returns the current number of live entries.
func (w *workingBuffer) len() int {
	return w.lru.Len()
}
