package service

import (
	"context"
	"sync"
	"time"

	"github.com/draftwell/refinery/common/logger"
)

// TaskRunner runs best-effort background work: cleanup calls and asynchronous
// proposal updates that must never block or fail the operation that spawned
// them. Each task gets its own error boundary; a panic is recovered and
// logged, never propagated.
type TaskRunner struct {
	log         *logger.Logger
	taskTimeout time.Duration
	wg          sync.WaitGroup
}

// NewTaskRunner creates a task runner
func NewTaskRunner(log *logger.Logger) *TaskRunner {
	return &TaskRunner{
		log:         log,
		taskTimeout: 60 * time.Second,
	}
}

// WithTaskTimeout sets the per-task context timeout
func (r *TaskRunner) WithTaskTimeout(timeout time.Duration) *TaskRunner {
	r.taskTimeout = timeout
	return r
}

// Go spawns a supervised task. The task receives a fresh context detached
// from any request so it survives the caller's response cycle.
func (r *TaskRunner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("background task panicked", "task", name, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)
		defer cancel()

		fn(ctx)
	}()
}

// Wait blocks until all spawned tasks finish. A join hook for graceful
// shutdown and test synchronization only; production control flow never
// depends on it.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}
