// Package dispatcher fans queued work out to a fixed-size worker pool.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/queue/memory"
)

// Source yields work items until it is closed.
type Source[T any] interface {
	Dequeue(ctx context.Context) (T, error)
}

// Handler processes one item. It owns its own cancellation decisions.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher runs a bounded number of workers over a Source.
type Dispatcher[T any] struct {
	source  Source[T]
	workers int
	handle  Handler[T]
	logger  *zap.Logger
}

// New creates a Dispatcher with at least one worker.
func New[T any](source Source[T], workers int, handle Handler[T], logger *zap.Logger) *Dispatcher[T] {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{source: source, workers: workers, handle: handle, logger: logger}
}

// Run starts the workers and blocks until the source is drained or ctx ends.
// Cancellation stops new dispatch; handlers already running are waited for.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher[T]) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := d.source.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				d.logger.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		d.handle(ctx, item)
	}
}
