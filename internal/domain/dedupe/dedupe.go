// Package dedupe defines the interface for idempotency tracking.
//
// The deduper is a fast in-memory front for the durable delivery record
// store: it short-circuits repeat sends within a process lifetime, while
// the store remains the source of truth across restarts.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen delivery keys to ensure at-most-once dispatch.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	// This is the ONLY method for deduplication - thread-safe and atomic.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord removes a key from the seen list, allowing it to be retried.
	// This should only be used when a delivery was marked as seen but the
	// attempt could not be recorded durably.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus a FIFO ring for
// bounded eviction. Eviction only drops the cache entry; the durable
// delivery record still guards against resends.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // FIFO eviction order, oldest first
	head    int
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50_000,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]struct{})
	if d.maxSize > 0 {
		d.order = make([]string, 0, d.maxSize)
	}

	return d
}

// SeenAndRecord atomically checks if key was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	d.seen[key] = struct{}{}
	if d.maxSize > 0 {
		d.order = append(d.order, key)
	}
	d.size.Add(1)
	return false
}

// Unrecord removes a key from the seen list, allowing it to be retried.
func (d *inMemoryDeduper) Unrecord(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; !exists {
		return
	}
	delete(d.seen, key)
	d.size.Add(-1)
	// The order slot, if any, becomes stale; evictOldest skips stale slots.
}

// evictOldest drops the oldest still-live entry. Must hold d.mu.
func (d *inMemoryDeduper) evictOldest() {
	for d.head < len(d.order) {
		key := d.order[d.head]
		d.head++
		if _, live := d.seen[key]; live {
			delete(d.seen, key)
			d.size.Add(-1)
			break
		}
	}
	// Compact the ring once the consumed prefix dominates.
	if d.head > len(d.order)/2 && d.head > 1024 {
		d.order = append(d.order[:0], d.order[d.head:]...)
		d.head = 0
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
