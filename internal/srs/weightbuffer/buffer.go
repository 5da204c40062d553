// Package weightbuffer debounces persistence of online-learned algorithm
// weights. The hlr model updates its weight vector on every review; writing
// the deck's override document each time would turn every answer into a
// config write, so updates accumulate here and flush in batches.
package weightbuffer

import (
	"reflect"
	"sync"
	"time"
)

const (
	// defaultFlushCount flushes after this many buffered updates.
	defaultFlushCount = 6
	// defaultFlushInterval flushes when this much time has passed since the
	// last flush, even below the count threshold.
	defaultFlushInterval = 12 * time.Second
	// defaultEntryTTL discards entries untouched for this long; the next
	// update starts fresh instead of extending a stale document.
	defaultEntryTTL = 30 * time.Minute
)

type entry struct {
	algorithmID  string
	pending      map[string]any
	pendingCount int
	lastFlush    time.Time
	lastTouch    time.Time
}

// Buffer is a process-wide, per-deck debounce of weight updates. Safe for
// concurrent use. Construct one per service instance and inject it; tests
// get isolated instances.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]*entry

	flushCount    int
	flushInterval time.Duration
	entryTTL      time.Duration
	now           func() time.Time
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithThresholds overrides the flush count and interval.
func WithThresholds(count int, interval time.Duration) Option {
	return func(b *Buffer) {
		if count > 0 {
			b.flushCount = count
		}
		if interval > 0 {
			b.flushInterval = interval
		}
	}
}

// WithEntryTTL overrides the stale-entry TTL.
func WithEntryTTL(ttl time.Duration) Option {
	return func(b *Buffer) {
		if ttl > 0 {
			b.entryTTL = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		entries:       make(map[string]*entry),
		flushCount:    defaultFlushCount,
		flushInterval: defaultFlushInterval,
		entryTTL:      defaultEntryTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Offer records an updated override document for the deck. The returned
// document is non-nil when the caller should persist it now: either enough
// updates accumulated since the last flush or the flush interval elapsed,
// whichever came first.
func (b *Buffer) Offer(deckID, algorithmID string, doc map[string]any) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, ok := b.entries[deckID]
	if !ok || e.algorithmID != algorithmID || now.Sub(e.lastTouch) > b.entryTTL {
		e = &entry{
			algorithmID: algorithmID,
			lastFlush:   now,
		}
		b.entries[deckID] = e
	}

	if !reflect.DeepEqual(e.pending, doc) {
		e.pending = doc
	}
	e.pendingCount++
	e.lastTouch = now

	if e.pendingCount >= b.flushCount || now.Sub(e.lastFlush) >= b.flushInterval {
		flushed := e.pending
		e.pending = nil
		e.pendingCount = 0
		e.lastFlush = now
		return flushed, true
	}
	return nil, false
}

// Requeue restores a flushed document whose persistence failed, so
// ApplyPending keeps serving it and a later flush retries it. A newer
// pending document wins over the requeued one; an entry that was replaced
// or expired in the meantime discards it.
func (b *Buffer) Requeue(deckID, algorithmID string, doc map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[deckID]
	if !ok || e.algorithmID != algorithmID || e.pending != nil {
		return
	}
	e.pending = doc
}

// ApplyPending substitutes the buffered-but-not-yet-persisted override for
// the stored one, so reads stay consistent with the latest in-memory state
// before a flush. The stored document is returned unchanged when nothing is
// pending or the entry belongs to a different algorithm.
func (b *Buffer) ApplyPending(deckID, algorithmID string, stored map[string]any) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[deckID]
	if !ok || e.algorithmID != algorithmID || e.pending == nil {
		return stored
	}
	if b.now().Sub(e.lastTouch) > b.entryTTL {
		return stored
	}
	return e.pending
}

// Pending reports how many updates are buffered for the deck.
func (b *Buffer) Pending(deckID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[deckID]; ok {
		return e.pendingCount
	}
	return 0
}
