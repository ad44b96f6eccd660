// Package schedule runs background work for the sync engine.
//
// Stale-while-revalidate refreshes, connectivity probes and reconnect syncs
// are submitted as named tasks instead of raw goroutines and timers, so tests
// can swap in Manual and decide exactly when queued work runs.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of background work. It must honor ctx cancellation.
type Task func(ctx context.Context)

// Scheduler accepts background tasks.
type Scheduler interface {
	// Go runs task once, asynchronously.
	Go(name string, task Task)

	// Every runs task every interval until the returned stop function is
	// called or the scheduler shuts down.
	Every(name string, interval time.Duration, task Task) (stop func())
}

// Runner is the goroutine-backed Scheduler used in production.
// Tasks run with the Runner's context and are cancelled by Close.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRunner creates a Runner whose tasks inherit ctx.
func NewRunner(ctx context.Context, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{ctx: ctx, cancel: cancel, logger: logger}
}

// Go runs task once in its own goroutine.
func (r *Runner) Go(name string, task Task) {
	if r.ctx.Err() != nil {
		r.logger.Debug("scheduler closed, task dropped", "task", name)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(name, task)
	}()
}

// Every runs task on a ticker. The first run happens after one interval.
func (r *Runner) Every(name string, interval time.Duration, task Task) (stop func()) {
	ctx, cancel := context.WithCancel(r.ctx)
	if interval <= 0 {
		r.logger.Warn("periodic task disabled, non-positive interval", "task", name, "interval", interval)
		cancel()
		return func() {}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runWith(ctx, name, task)
			}
		}
	}()
	return cancel
}

// Close cancels every task and waits for running ones to return.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) run(name string, task Task) {
	r.runWith(r.ctx, name, task)
}

func (r *Runner) runWith(ctx context.Context, name string, task Task) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("background task panicked", "task", name, "panic", p)
		}
	}()
	start := time.Now()
	task(ctx)
	r.logger.Debug("background task finished", "task", name, "elapsed", time.Since(start))
}
