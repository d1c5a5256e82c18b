// Package periodic runs a function on a fixed interval in the background.
package periodic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Func is the work performed on every tick.
type Func func(ctx context.Context) error

// Task waits for its interval, runs its function, and repeats until stopped.
// Errors returned by the function go to the error handler and do not stop the
// loop. Cancellation is cooperative: Stop waits for the current run to return.
type Task struct {
	name     string
	interval time.Duration
	fn       Func
	onError  func(error)
	logger   logr.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// Option configures a Task.
type Option func(*Task)

// WithErrorHandler replaces the default handler, which logs the error.
func WithErrorHandler(h func(error)) Option {
	return func(t *Task) { t.onError = h }
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger logr.Logger) Option {
	return func(t *Task) { t.logger = logger }
}

// New creates a stopped task.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.onError == nil {
		t.onError = func(err error) {
			t.logger.Error(err, "Background task failed", "task", t.name)
		}
	}
	return t
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Start launches the loop. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) error {
	if t.interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %s", t.name, t.interval)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil
	}
	// reap a loop that exited because its parent context ended
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running.Store(true)

	t.wg.Add(1)
	go t.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped task is
// a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.cancel = nil
}

// Running reports whether the loop goroutine is alive. It turns false once
// the loop exits, including when the context passed to Start is cancelled.
func (t *Task) Running() bool {
	return t.running.Load()
}

func (t *Task) loop(ctx context.Context) {
	defer t.wg.Done()
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Task) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.onError(fmt.Errorf("task %s panicked: %v", t.name, r))
		}
	}()

	if err := t.fn(ctx); err != nil && ctx.Err() == nil {
		t.onError(err)
	}
}
