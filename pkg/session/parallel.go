package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/device"
)

// Worker is one device that pulls captures from the shared queue.
type Worker struct {
	ID      int
	Device  device.Device
	Cleanup func()
}

// ParallelRunner spreads captures over several devices. Every worker runs
// the pipeline of a shared base Runner with its own device; they share the
// report, the history and the source tree being patched.
type ParallelRunner struct {
	workers []Worker
	base    *Runner
}

// NewParallelRunner creates a parallel runner with multiple device workers.
func NewParallelRunner(base *Runner, workers []Worker) *ParallelRunner {
	return &ParallelRunner{workers: workers, base: base}
}

// Run takes captures screenshots using a work queue: all workers pull from
// the same queue until it is empty. Results are indexed by queue position.
// A fatal device or config error on any worker stops the others.
func (pr *ParallelRunner) Run(ctx context.Context, captures int) ([]*Result, *Summary, error) {
	if len(pr.workers) == 0 {
		return nil, nil, fmt.Errorf("no workers available")
	}
	if pr.base.Device == nil {
		pr.base.Device = pr.workers[0].Device
	}
	if pr.base.patchMu == nil {
		pr.base.patchMu = &sync.Mutex{}
	}

	start := time.Now()
	pr.base.Begin(ctx)

	queue := make(chan int, captures)
	for i := 0; i < captures; i++ {
		queue <- i
	}
	close(queue)

	results := make([]*Result, captures)
	g, gctx := errgroup.WithContext(ctx)
	for i := range pr.workers {
		w := pr.workers[i]
		g.Go(func() error {
			if w.Cleanup != nil {
				defer w.Cleanup()
			}
			r := *pr.base
			r.Device = w.Device
			for idx := range queue {
				if gctx.Err() != nil {
					return nil
				}
				// Each index is written by exactly one worker
				res, err := r.RunOnce(gctx)
				results[idx] = res
				if err != nil && isFatal(err) {
					return fmt.Errorf("worker %d: %w", w.ID, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	sum := &Summary{SessionID: pr.base.SessionID}
	for _, res := range results {
		sum.Add(res)
	}
	sum.Duration = time.Since(start)
	sum.Status = sum.status(ctx.Err() != nil)
	if err != nil && sum.Status == core.StatusPassed {
		sum.Status = core.StatusErrored
	}
	pr.base.Finish(ctx, sum)
	return results, sum, err
}
