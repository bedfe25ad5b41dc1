package serve

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/watch"
)

// gate serializes rebuilds. Batches that flush while a rebuild is in flight
// merge into a single pending batch, so at most one rebuild runs and at
// most one follow-up is queued; the follow-up covers the union of every
// change that arrived in the meantime.
type gate struct {
	rebuild func(context.Context, watch.Batch) error

	req chan struct{}

	mu      sync.Mutex
	pending watch.Batch
}

func newGate(rebuild func(context.Context, watch.Batch) error) *gate {
	return &gate{
		rebuild: rebuild,
		req:     make(chan struct{}, 1),
	}
}

// Request queues a batch for rebuilding. Safe for concurrent use.
func (g *gate) Request(batch watch.Batch) {
	g.mu.Lock()
	g.pending.Merge(batch)
	g.mu.Unlock()
	select {
	case g.req <- struct{}{}:
	default:
	}
}

// Run processes rebuild requests until ctx is canceled. Rebuild failures
// are logged and do not stop the worker.
func (g *gate) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.req:
			batch := g.take()
			if batch.Empty() {
				continue
			}
			if err := g.rebuild(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("rebuild failed", logfields.Error(err))
			}
		}
	}
}

func (g *gate) take() watch.Batch {
	g.mu.Lock()
	batch := g.pending
	g.pending = watch.Batch{}
	g.mu.Unlock()
	return batch
}
