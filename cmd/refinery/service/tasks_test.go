package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/draftwell/refinery/common/logger"
)

func newTestLogger() *logger.Logger {
	return logger.New("test", "error", "json")
}

func TestTaskRunnerWaitJoinsAllTasks(t *testing.T) {
	runner := NewTaskRunner(newTestLogger())

	var ran int64
	for i := 0; i < 8; i++ {
		runner.Go("count", func(ctx context.Context) {
			atomic.AddInt64(&ran, 1)
		})
	}

	runner.Wait()

	if got := atomic.LoadInt64(&ran); got != 8 {
		t.Errorf("ran = %d, want 8", got)
	}
}

func TestTaskRunnerRecoversPanics(t *testing.T) {
	runner := NewTaskRunner(newTestLogger())

	runner.Go("explode", func(ctx context.Context) {
		panic("boom")
	})
	runner.Wait()

	// A panic must not poison the runner for later tasks.
	var ran int64
	runner.Go("after", func(ctx context.Context) {
		atomic.AddInt64(&ran, 1)
	})
	runner.Wait()

	if atomic.LoadInt64(&ran) != 1 {
		t.Errorf("task after panic did not run")
	}
}

func TestTaskRunnerAppliesTimeout(t *testing.T) {
	runner := NewTaskRunner(newTestLogger()).WithTaskTimeout(20 * time.Millisecond)

	done := make(chan struct{})
	runner.Go("wait-for-deadline", func(ctx context.Context) {
		defer close(done)

		deadline, ok := ctx.Deadline()
		if !ok {
			t.Errorf("task context has no deadline")
			return
		}
		if until := time.Until(deadline); until > 25*time.Millisecond {
			t.Errorf("deadline too far out: %v", until)
		}

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("task context never expired")
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task did not finish")
	}
	runner.Wait()
}
