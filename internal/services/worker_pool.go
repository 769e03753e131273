package services

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runTasks runs task(ctx, i) for i in [0, n) on at most workers goroutines.
// Submission blocks while the pool is full. Each task writes only its own
// result slot. It returns the number of tasks that completed; a non-nil
// error means the batch is incomplete.
func runTasks(ctx context.Context, workers, n int, task func(ctx context.Context, i int) error) (int, error) {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var done atomic.Int64
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := task(gctx, i); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}

	err := g.Wait()
	completed := int(done.Load())
	if err == nil && completed < n {
		err = ctx.Err()
	}
	return completed, err
}
