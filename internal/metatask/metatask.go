// Package metatask implements a task that drives an ordered list of remote
// tasks as a single one.
//
// The steps of the meta task are the sum of the steps of the subtasks and its
// progress is the progress of the running subtask on top of the steps of the
// finished ones. The first failing subtask stops the run, and its error is
// the error of the meta task.
package metatask

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/task"
	"github.com/slok/taskvisor/internal/taskbus"
)

// Observer is notified about the run and the subtasks lifecycle.
type Observer interface {
	RunStarted(ctx context.Context, subtasks []taskbus.RemoteTask)
	SubtaskStarted(index int, t taskbus.RemoteTask)
	SubtaskFinished(index int, t taskbus.RemoteTask, err error)
}

type noopObserver struct{}

func (noopObserver) RunStarted(context.Context, []taskbus.RemoteTask) {}
func (noopObserver) SubtaskStarted(int, taskbus.RemoteTask)           {}
func (noopObserver) SubtaskFinished(int, taskbus.RemoteTask, error)   {}

// MetaTaskConfig is the configuration of a meta task.
type MetaTaskConfig struct {
	Name     string
	Subtasks []taskbus.RemoteTask
	// Class is the class of the worker names, by default `MetaTask`.
	Class    string
	Observer Observer
	Logger   log.Logger
}

func (c *MetaTaskConfig) defaults() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, s := range c.Subtasks {
		if s == nil {
			return fmt.Errorf("subtask %d is missing", i)
		}
	}
	if c.Class == "" {
		c.Class = "MetaTask"
	}
	if c.Observer == nil {
		c.Observer = noopObserver{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "metatask.MetaTask", "task": c.Name})
	return nil
}

// MetaTask is the task runnable that drives the subtasks.
type MetaTask struct {
	name     string
	class    string
	subtasks []taskbus.RemoteTask
	steps    []int
	total    int
	observer Observer
	logger   log.Logger

	mu       sync.Mutex
	finished int
	lastStep int
}

var (
	_ task.Runnable      = &MetaTask{}
	_ task.StepsProvider = &MetaTask{}
	_ task.Classifier    = &MetaTask{}
)

// New returns a new meta task. The steps of the subtasks are read once.
func New(cfg MetaTaskConfig) (*MetaTask, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &MetaTask{
		name:     cfg.Name,
		class:    cfg.Class,
		subtasks: cfg.Subtasks,
		steps:    make([]int, 0, len(cfg.Subtasks)),
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
	for _, s := range cfg.Subtasks {
		steps := s.Steps()
		if steps < 0 {
			steps = 0
		}
		m.steps = append(m.steps, steps)
		m.total += steps
	}

	return m, nil
}

func (m *MetaTask) Name() string  { return m.name }
func (m *MetaTask) Steps() int    { return m.total }
func (m *MetaTask) Class() string { return m.class }

// Subtasks returns the subtasks of the meta task.
func (m *MetaTask) Subtasks() []taskbus.RemoteTask { return m.subtasks }

func (m *MetaTask) Run(ctx context.Context, r task.Reporter) (any, error) {
	m.observer.RunStarted(ctx, m.subtasks)

	for i, sub := range m.subtasks {
		if r.CheckCancel() {
			m.logger.Infof("Cancelled before subtask %q", sub.Name())
			return nil, nil
		}

		m.logger.Debugf("Running subtask %d/%d %q", i+1, len(m.subtasks), sub.Name())
		m.observer.SubtaskStarted(i, sub)
		err := m.drive(ctx, r, sub, m.steps[i])
		m.observer.SubtaskFinished(i, sub, err)
		if err != nil {
			m.logger.Warningf("Subtask %q failed: %s", sub.Name(), err)
			return nil, err
		}

		m.mu.Lock()
		m.finished += m.steps[i]
		m.mu.Unlock()
	}

	return nil, nil
}

// drive runs a single subtask until it stops, the subscriptions of the
// subtask are released before returning.
func (m *MetaTask) drive(ctx context.Context, r task.Reporter, sub taskbus.RemoteTask, steps int) error {
	// The bus calls must work after the meta task has been cancelled.
	callCtx := context.WithoutCancel(ctx)

	var (
		mu           sync.Mutex
		failed       bool
		disconnected bool
		stopOnce     sync.Once
		stopped      = make(chan struct{})
	)
	stop := func() { stopOnce.Do(func() { close(stopped) }) }

	h, err := sub.Subscribe(taskbus.Handlers{
		ProgressChanged: func(p model.Progress) {
			mu.Lock()
			ignore := failed
			mu.Unlock()
			if !ignore {
				m.reportProgress(r, p, steps)
			}
		},
		Failed: func() {
			mu.Lock()
			failed = true
			mu.Unlock()
			// No other subtask runs after a failure.
			if c, ok := r.(task.Canceler); ok {
				c.Cancel()
			}
		},
		Stopped: stop,
		Disconnected: func() {
			mu.Lock()
			disconnected = true
			mu.Unlock()
			stop()
		},
	})
	if err != nil {
		return model.NewError(model.ErrorKindTask, "could not subscribe to subtask %q: %s", sub.Name(), err)
	}
	defer h.Disconnect()

	if err := sub.Start(callCtx); err != nil {
		return err
	}

	done := ctx.Done()
	for waiting := true; waiting; {
		select {
		case <-stopped:
			waiting = false
		case <-done:
			done = nil
			mu.Lock()
			subFailed := failed
			mu.Unlock()
			if subFailed {
				continue
			}
			m.logger.Infof("Cancelling subtask %q", sub.Name())
			if err := sub.Cancel(callCtx); err != nil {
				m.logger.Warningf("Could not cancel subtask %q: %s", sub.Name(), err)
			}
		}
	}
	h.Disconnect()

	mu.Lock()
	lost := disconnected
	mu.Unlock()
	if lost {
		return model.NewError(model.ErrorKindTask, "the service of subtask %q left the bus", sub.Name())
	}

	return sub.Finish(callCtx)
}

// reportProgress reports the progress of a subtask as the meta task progress.
func (m *MetaTask) reportProgress(r task.Reporter, p model.Progress, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := min(max(p.Step, 0), steps)
	agg := min(max(m.finished+step, min(1, m.total), m.lastStep), m.total)
	m.lastStep = agg

	r.ReportProgress(p.Message, task.WithStepNumber(agg))
}
