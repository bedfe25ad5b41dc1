// Package watch turns a stream of file-system events into ordered,
// non-overlapping change batches flushed on a fixed interval.
package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Batch is the set of changes accumulated between two consecutive flush
// ticks. Paths are relative to the watched root.
type Batch struct {
	Added   []string // added or modified
	Removed []string
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool { return len(b.Added) == 0 && len(b.Removed) == 0 }

// Merge folds other into b, deduplicating.
func (b *Batch) Merge(other Batch) {
	b.Added = union(b.Added, other.Added)
	b.Removed = union(b.Removed, other.Removed)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// FlushFunc receives one non-empty batch per tick that had changes.
type FlushFunc func(Batch)

// Batcher accumulates add/change/remove events and flushes a deduplicated
// snapshot on each clock tick. Events arriving while the flush callback
// runs accumulate into the next batch; an event belongs to exactly one
// flushed batch.
//
// The clock is injected so tests can step time deterministically instead of
// sleeping.
type Batcher struct {
	interval time.Duration
	clock    clockwork.Clock
	flush    FlushFunc

	mu      sync.Mutex
	added   map[string]struct{}
	removed map[string]struct{}
}

// NewBatcher creates a batcher flushing at the given interval. A nil clock
// means the real one.
func NewBatcher(interval time.Duration, clock clockwork.Clock, flush FlushFunc) *Batcher {
	if interval <= 0 {
		interval = 750 * time.Millisecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Batcher{
		interval: interval,
		clock:    clock,
		flush:    flush,
		added:    make(map[string]struct{}),
		removed:  make(map[string]struct{}),
	}
}

// Add records an added or modified path.
func (b *Batcher) Add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added[path] = struct{}{}
}

// Remove records a deleted path.
func (b *Batcher) Remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[path] = struct{}{}
}

// Run flushes on every tick until ctx is canceled. If the captured batch is
// empty, no flush callback is invoked for that tick.
func (b *Batcher) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if batch := b.swap(); !batch.Empty() {
				b.flush(batch)
			}
		}
	}
}

// swap atomically captures and resets the accumulated lists.
func (b *Batcher) swap() Batch {
	b.mu.Lock()
	added, removed := b.added, b.removed
	b.added = make(map[string]struct{})
	b.removed = make(map[string]struct{})
	b.mu.Unlock()

	return Batch{Added: keys(added), Removed: keys(removed)}
}

func keys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
