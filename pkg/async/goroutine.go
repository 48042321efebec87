// Package async provides safe concurrent execution for background tasks.
//
// Audit writes, analytics capture, and usage recording are fire-and-forget:
// the response path never waits on them. SafeGo gives those tasks panic
// recovery, a bounded timeout, and error logging so a failing side effect
// can never crash or block the primary operation.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/crestline/backoffice/pkg/observability"
)

// SafeGo executes fn in a detached goroutine with panic recovery and a
// bounded timeout. The task runs on a fresh context so it survives the
// caller's request context being canceled once the response is sent.
//
// Use this instead of a bare `go func()` for every background side effect.
func SafeGo(logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// WorkerPool manages a bounded pool of workers draining background tasks.
// Used for high-volume side effects (usage event batches) where unbounded
// goroutine fan-out would be a leak.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh chan func(context.Context) error
	doneCh chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates and starts a worker pool.
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.worker()
			}()
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

func (p *WorkerPool) worker() {
	for {
		select {
		case task := <-p.workCh:
			p.run(task)
		case <-p.ctx.Done():
			// Drain what was queued before shutdown, then exit.
			for {
				select {
				case task := <-p.workCh:
					p.run(task)
				default:
					return
				}
			}
		}
	}
}

func (p *WorkerPool) run(task func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"task":  p.taskName,
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("panic in worker pool task")
		}
	}()

	if err := task(ctx); err != nil {
		p.logger.WithError(err).WithField("task", p.taskName).Warn("worker pool task failed")
	}
}

// Submit queues a task. Returns false if the pool is shutting down or the
// queue is full; the caller decides whether dropping the task is acceptable.
func (p *WorkerPool) Submit(task func(context.Context) error) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.workCh <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits up to gracePeriod for queued
// tasks to drain.
func (p *WorkerPool) Shutdown(gracePeriod time.Duration) {
	p.shutdownOnce.Do(func() {
		p.cancel()

		select {
		case <-p.doneCh:
		case <-time.After(gracePeriod):
		}
	})
}
