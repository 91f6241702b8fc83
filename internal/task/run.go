package task

import (
	"context"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/model"
)

// SyncRunPollInterval is the interval used by SyncRun to check if a task is still running.
var SyncRunPollInterval = time.Second

// SyncRun starts the task and blocks until it finishes, returning the outcome
// of Finish. If the context is done the task is cancelled and waited.
func SyncRun(ctx context.Context, r Runner) error {
	stopped := make(chan struct{})
	var once sync.Once
	h := r.Signals().Stopped.Connect(func(struct{}) {
		once.Do(func() { close(stopped) })
	})
	defer h.Disconnect()

	if err := r.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(SyncRunPollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	for r.IsRunning() {
		select {
		case <-stopped:
		case <-ticker.C:
		case <-done:
			r.Cancel()
			done = nil
		}
	}

	return r.Finish()
}

// AsyncRun starts the task and calls callback once with the outcome of Finish
// when the task has stopped.
func AsyncRun(r Runner, callback func(err error)) error {
	var (
		once sync.Once
		h    interface{ Disconnect() }
		mu   sync.Mutex
	)

	mu.Lock()
	h = r.Signals().Stopped.Connect(func(struct{}) {
		once.Do(func() {
			mu.Lock()
			h.Disconnect()
			mu.Unlock()
			callback(r.Finish())
		})
	})
	mu.Unlock()

	if err := r.Start(); err != nil {
		h.Disconnect()
		return err
	}

	return nil
}

// WaitFor blocks until the task is not running or the timeout is reached, in
// that case it returns a Timeout error. The task is not affected by the timeout.
func WaitFor(ctx context.Context, r Runner, timeout time.Duration) error {
	stopped := make(chan struct{})
	var once sync.Once
	h := r.Signals().Stopped.Connect(func(struct{}) {
		once.Do(func() { close(stopped) })
	})
	defer h.Disconnect()

	if !r.IsRunning() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-stopped:
		return nil
	case <-timer.C:
		if !r.IsRunning() {
			return nil
		}
		return model.NewError(model.ErrorKindTimeout, "task %q is still running after %s", r.Name(), timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
