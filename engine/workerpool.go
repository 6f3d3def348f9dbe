package engine

import (
	"context"
	"time"

	"github.com/pdok/geoflow/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds the CPU bound work of all operators of a query. Calls block until their work is
// done, so no goroutines outlive the pull that started them.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

func NewWorkerPool(size int) *WorkerPool {
	size = max(size, 1)
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *WorkerPool) Size() int {
	return p.size
}

// Run executes fn once a worker is free.
func (p *WorkerPool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	start := time.Now()
	defer func() {
		metrics.WorkerTaskDuration.Observe(time.Since(start).Seconds())
	}()
	return fn()
}

// ParallelFor calls fn for 0 <= i < n on the pool and returns the first error.
func (p *WorkerPool) ParallelFor(ctx context.Context, n int, fn func(i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return p.Run(ctx, func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fn(i)
			})
		})
	}
	return g.Wait()
}

// ParallelChunks splits [0, n) into chunks of about equal size, one per worker.
func (p *WorkerPool) ParallelChunks(ctx context.Context, n int, fn func(from, to int) error) error {
	if n == 0 {
		return nil
	}
	chunks := min(p.size, n)
	chunkSize := (n + chunks - 1) / chunks
	return p.ParallelFor(ctx, chunks, func(c int) error {
		from := c * chunkSize
		to := min(from+chunkSize, n)
		if from >= to {
			return nil
		}
		return fn(from, to)
	})
}
