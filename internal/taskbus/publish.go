package taskbus

import (
	"errors"
	"fmt"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/signal"
	"github.com/slok/taskvisor/internal/task"
)

// ResultConverter converts the result of a task into its bus value.
type ResultConverter func(result any) (any, error)

// NoResultConverter is the default converter, tasks don't have a result on the bus.
func NoResultConverter(result any) (any, error) {
	return nil, model.NewError(model.ErrorKindNoResult, "the task has no bus result")
}

// IdentityConverter sends the result as it is.
func IdentityConverter(result any) (any, error) { return result, nil }

// PublishConfig is the configuration to publish a task.
type PublishConfig struct {
	Task task.Runner
	Conn bus.Conn
	// Path is the object path of the task, by default a new path under TasksNamespace.
	Path bus.ObjectPath
	// ConvertResult converts the task result, by default the task has no bus result.
	ConvertResult ResultConverter
	Logger        log.Logger
}

func (c *PublishConfig) defaults() error {
	if c.Task == nil {
		return fmt.Errorf("task is required")
	}
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Path == "" {
		c.Path = bus.NewObjectPath(TasksNamespace)
	}
	if c.ConvertResult == nil {
		c.ConvertResult = NoResultConverter
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "taskbus.Interface", "task": c.Task.Name(), "path": string(c.Path)})
	return nil
}

// Interface is a task published on the bus.
type Interface struct {
	task      task.Runner
	conn      bus.Conn
	path      bus.ObjectPath
	convert   ResultConverter
	logger    log.Logger
	listeners signal.Group
}

// Publish exports a task on the bus.
func Publish(cfg PublishConfig) (*Interface, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	i := &Interface{
		task:    cfg.Task,
		conn:    cfg.Conn,
		path:    cfg.Path,
		convert: cfg.ConvertResult,
		logger:  cfg.Logger,
	}

	i.connectSignals()
	if err := i.conn.Export(i.path, i.busInterface()); err != nil {
		i.listeners.Disconnect()
		return nil, fmt.Errorf("could not export task: %w", err)
	}
	i.logger.Debugf("Task published")

	return i, nil
}

// Path returns the object path of the published task.
func (i *Interface) Path() bus.ObjectPath { return i.path }

// Task returns the published task.
func (i *Interface) Task() task.Runner { return i.task }

// Unpublish removes the task from the bus.
func (i *Interface) Unpublish() error {
	i.listeners.Disconnect()
	if err := i.conn.Unexport(i.path, TaskInterface); err != nil {
		return fmt.Errorf("could not unexport task: %w", err)
	}
	return nil
}

func (i *Interface) busInterface() bus.Interface {
	return bus.Interface{
		Name: TaskInterface,
		Methods: map[string]any{
			MethodStart:     i.start,
			MethodCancel:    i.cancel,
			MethodFinish:    i.finish,
			MethodGetResult: i.getResult,
		},
		Properties: map[string]func() any{
			PropertyName:      func() any { return i.task.Name() },
			PropertySteps:     func() any { return int32(i.task.Steps()) },
			PropertyProgress:  func() any { return toProgressValue(i.task.Progress()) },
			PropertyIsRunning: func() any { return i.task.IsRunning() },
		},
		Signals: []string{SignalStarted, SignalProgressChanged, SignalSucceeded, SignalFailed, SignalStopped},
	}
}

// start starts the task, starting a running task is not an error on the bus.
func (i *Interface) start() error {
	err := i.task.Start()
	if errors.Is(err, model.ErrTaskAlreadyRunning) {
		return nil
	}
	return toWireError(err)
}

func (i *Interface) cancel() error {
	i.task.Cancel()
	return nil
}

func (i *Interface) finish() error {
	return toWireError(i.task.Finish())
}

func (i *Interface) getResult() (any, error) {
	res, err := i.task.Result()
	if err != nil {
		return nil, toWireError(err)
	}
	v, err := i.convert(res)
	if err != nil {
		return nil, toWireError(err)
	}
	return v, nil
}

// connectSignals forwards the task signals to the bus. The property-change
// notifications follow the signal they belong to.
func (i *Interface) connectSignals() {
	s := i.task.Signals()
	i.listeners.Add(
		s.Started.Connect(func(struct{}) {
			i.emit(SignalStarted)
			i.emitChanged(PropertyIsRunning, true)
		}),
		s.ProgressChanged.Connect(func(p model.Progress) {
			i.emit(SignalProgressChanged, int32(p.Step), p.Message)
			i.emitChanged(PropertyProgress, toProgressValue(p))
		}),
		s.Succeeded.Connect(func(struct{}) { i.emit(SignalSucceeded) }),
		s.Failed.Connect(func(struct{}) { i.emit(SignalFailed) }),
		s.Stopped.Connect(func(struct{}) {
			i.emit(SignalStopped)
			i.emitChanged(PropertyIsRunning, false)
		}),
	)
}

func (i *Interface) emit(member string, args ...any) {
	if err := i.conn.Emit(i.path, TaskInterface, member, args...); err != nil {
		i.logger.Warningf("Could not emit %s signal: %s", member, err)
	}
}

func (i *Interface) emitChanged(property string, value any) {
	if err := i.conn.EmitPropertiesChanged(i.path, TaskInterface, map[string]any{property: value}); err != nil {
		i.logger.Warningf("Could not notify %s property change: %s", property, err)
	}
}
