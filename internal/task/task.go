// Package task implements the local task: a unit of work that runs on its own
// worker goroutine, reports its progress, can be cancelled cooperatively and
// finishes with a single result or error.
//
// The signals of a task are delivered in this order:
//
//	Started -> ProgressChanged* -> (Failed | Succeeded)? -> Stopped
//
// Failed and Succeeded are both missing when the task was cancelled.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/signal"
)

// Runnable is the work a task executes.
type Runnable interface {
	// Name is the human readable name of the work.
	Name() string
	// Run executes the work. The context is cancelled when the task is cancelled.
	// A nil result means the task doesn't provide a result.
	Run(ctx context.Context, r Reporter) (any, error)
}

// StepsProvider is implemented by the runnables that have more than one step.
type StepsProvider interface {
	Steps() int
}

// CancelHook is implemented by the runnables that need to know when the task is cancelled.
type CancelHook interface {
	OnCancel()
}

// Classifier is implemented by the runnables that want to set the class used
// on the worker names, by default the runnable type name is used.
type Classifier interface {
	Class() string
}

// Runner is a task that can be driven.
type Runner interface {
	Name() string
	Steps() int
	Progress() model.Progress
	IsRunning() bool
	Start() error
	Cancel()
	Finish() error
	Result() (any, error)
	Signals() *Signals
}

// Signals are the signals of a task.
type Signals struct {
	Started         *signal.Signal[struct{}]
	ProgressChanged *signal.Signal[model.Progress]
	Succeeded       *signal.Signal[struct{}]
	Failed          *signal.Signal[struct{}]
	Stopped         *signal.Signal[struct{}]
}

func newSignals() *Signals {
	return &Signals{
		Started:         signal.New[struct{}](),
		ProgressChanged: signal.New[model.Progress](),
		Succeeded:       signal.New[struct{}](),
		Failed:          signal.New[struct{}](),
		Stopped:         signal.New[struct{}](),
	}
}

// TaskConfig is the configuration of a task.
type TaskConfig struct {
	Runnable Runnable
	// Dispatcher is where the signals are emitted, by default they are emitted
	// on the goroutine that produces them.
	Dispatcher      loop.Dispatcher
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *TaskConfig) defaults() error {
	if c.Runnable == nil {
		return fmt.Errorf("runnable is required")
	}
	if c.Runnable.Name() == "" {
		return fmt.Errorf("task name is required")
	}
	if sp, ok := c.Runnable.(StepsProvider); ok && sp.Steps() < 0 {
		return fmt.Errorf("steps can't be negative")
	}
	if c.Dispatcher == nil {
		c.Dispatcher = loop.Immediate
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "task.Task", "task": c.Runnable.Name()})
	return nil
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateFinished
)

// Task runs a Runnable.
type Task struct {
	runnable   Runnable
	name       string
	steps      int
	class      string
	dispatcher loop.Dispatcher
	recorder   metrics.Recorder
	logger     log.Logger
	signals    *Signals

	cancelled atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc

	// emitMu serializes the state changes with the emission of their signals.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      state
	progress   model.Progress
	result     any
	err        error
	workerName string
	startedAt  time.Time
	terminated chan struct{}
}

// New returns a new idle task.
func New(cfg TaskConfig) (*Task, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	steps := 1
	if sp, ok := cfg.Runnable.(StepsProvider); ok {
		steps = sp.Steps()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Task{
		runnable:   cfg.Runnable,
		name:       cfg.Runnable.Name(),
		steps:      steps,
		class:      className(cfg.Runnable),
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.MetricsRecorder,
		logger:     cfg.Logger,
		signals:    newSignals(),
		ctx:        ctx,
		ctxCancel:  cancel,
		terminated: make(chan struct{}),
	}, nil
}

// Name returns the name of the task.
func (t *Task) Name() string { return t.name }

// Steps returns the number of steps of the task.
func (t *Task) Steps() int { return t.steps }

// Signals returns the signals of the task.
func (t *Task) Signals() *Signals { return t.signals }

// Progress returns the current progress of the task.
func (t *Task) Progress() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// IsRunning returns true while the task is running.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateRunning
}

// WorkerName returns the name of the worker that runs the task, empty if the
// task has not been started.
func (t *Task) WorkerName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workerName
}

// Start starts the task on a new worker. Starting a running task returns a
// TaskAlreadyRunning error and has no effect, starting a finished task returns
// an AlreadyFinished error.
func (t *Task) Start() error {
	t.emitMu.Lock()
	t.mu.Lock()
	switch t.state {
	case stateRunning:
		t.mu.Unlock()
		t.emitMu.Unlock()
		return model.NewError(model.ErrorKindTaskAlreadyRunning, "task %q is already running", t.name)
	case stateFinished:
		t.mu.Unlock()
		t.emitMu.Unlock()
		return model.NewError(model.ErrorKindAlreadyFinished, "task %q is already finished", t.name)
	}
	t.state = stateRunning
	t.startedAt = time.Now()
	t.workerName = nextWorkerName(t.class)
	workerName := t.workerName
	t.mu.Unlock()

	t.dispatcher.Post(func() { t.signals.Started.Emit(struct{}{}) })
	t.emitMu.Unlock()

	if t.CheckCancel() {
		t.logger.Debugf("Task cancelled before start")
		t.terminate(nil, nil)
		return nil
	}

	go t.work(workerName)

	return nil
}

// Cancel requests the cancellation of the task. It never blocks and it can be
// called at any time. The work must check the cancellation and return.
func (t *Task) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	t.ctxCancel()

	if hook, ok := t.runnable.(CancelHook); ok {
		hook.OnCancel()
	}
}

// CheckCancel returns true if the cancellation of the task has been requested.
func (t *Task) CheckCancel() bool { return t.cancelled.Load() }

// Finish waits until the task is finished and returns the error of the task if
// it failed. Calling it multiple times returns the same outcome.
func (t *Task) Finish() error {
	<-t.terminated

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the result of a successfully finished task. If the task
// didn't provide a result it returns a NoResult error.
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateFinished || t.err != nil || t.result == nil {
		return nil, model.NewError(model.ErrorKindNoResult, "task %q has no result", t.name)
	}

	return t.result, nil
}

func (t *Task) work(workerName string) {
	logger := t.logger.WithValues(log.Kv{"worker": workerName})
	logger.Debugf("Task worker started")

	var (
		result any
		err    error
	)
	labels := pprof.Labels("task", t.name, "worker", workerName)
	pprof.Do(t.ctx, labels, func(ctx context.Context) {
		ctx = logger.SetValuesOnCtx(ctx, log.Kv{"task": t.name, "worker": workerName})
		result, err = t.run(ctx)
	})

	if err != nil && t.CheckCancel() && errors.Is(err, context.Canceled) {
		logger.Debugf("Task body ended with the cancellation: %s", err)
		err = nil
	}
	if err != nil {
		logger.Errorf("Task failed: %s", err)
	}

	t.terminate(result, err)
}

func (t *Task) run(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debugf("Task panic stack: %s", debug.Stack())
			err = model.NewError(model.ErrorKindTask, "task %q panicked: %v", t.name, r)
		}
	}()

	return t.runnable.Run(ctx, reporter{t: t})
}

// terminate stores the outcome and emits the terminal signals. The outcome is
// visible to Finish before the terminal signals are emitted.
func (t *Task) terminate(result any, err error) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	cancelled := t.CheckCancel()

	t.mu.Lock()
	t.state = stateFinished
	t.err = err
	if err == nil && !cancelled {
		t.result = result
	}
	duration := time.Since(t.startedAt)
	close(t.terminated)
	t.mu.Unlock()

	outcome := metrics.OutcomeSucceeded
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
		t.dispatcher.Post(func() { t.signals.Failed.Emit(struct{}{}) })
	case cancelled:
		outcome = metrics.OutcomeCancelled
	default:
		t.dispatcher.Post(func() { t.signals.Succeeded.Emit(struct{}{}) })
	}
	t.dispatcher.Post(func() { t.signals.Stopped.Emit(struct{}{}) })

	t.ctxCancel()
	t.recorder.ObserveTaskRun(t.name, outcome, duration)
	t.logger.Debugf("Task %s in %s", outcome, duration)
}
