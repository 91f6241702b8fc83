package taskbus

import (
	"context"
	"fmt"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/signal"
)

// Handlers are the callbacks of the signals of a remote task. Missing
// handlers are ignored.
type Handlers struct {
	Started         func()
	ProgressChanged func(model.Progress)
	Succeeded       func()
	Failed          func()
	Stopped         func()
	// Disconnected is called when the service of the task leaves the bus.
	Disconnected func()
}

// RemoteTask is a task published on the bus by another service.
type RemoteTask interface {
	// Name returns the cached name of the task.
	Name() string
	// Steps returns the cached number of steps of the task.
	Steps() int
	Start(ctx context.Context) error
	Cancel(ctx context.Context) error
	// Finish returns the task error received from the bus.
	Finish(ctx context.Context) error
	// Subscribe connects the handlers to the task signals, disconnecting the
	// returned handle doesn't affect the remote task.
	Subscribe(h Handlers) (signal.Handle, error)
}

// ProxyConfig is the configuration of a remote task proxy.
type ProxyConfig struct {
	Conn    bus.Conn
	Service string
	Path    bus.ObjectPath
	Logger  log.Logger
}

func (c *ProxyConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Service == "" {
		return fmt.Errorf("service is required")
	}
	if err := c.Path.Validate(); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "taskbus.Proxy", "service": c.Service, "path": string(c.Path)})
	return nil
}

// Proxy is the local view of a remote task.
type Proxy struct {
	conn    bus.Conn
	service string
	path    bus.ObjectPath
	name    string
	steps   int
	logger  log.Logger
}

var _ RemoteTask = &Proxy{}

// NewProxy returns a proxy of a remote task, the name and the steps of the
// task are read once.
func NewProxy(ctx context.Context, cfg ProxyConfig) (*Proxy, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Proxy{
		conn:    cfg.Conn,
		service: cfg.Service,
		path:    cfg.Path,
		logger:  cfg.Logger,
	}

	var steps int32
	if err := p.property(ctx, PropertyName, &p.name); err != nil {
		return nil, err
	}
	if err := p.property(ctx, PropertySteps, &steps); err != nil {
		return nil, err
	}
	p.steps = int(steps)

	return p, nil
}

func (p *Proxy) Name() string { return p.name }

func (p *Proxy) Steps() int { return p.steps }

// Service returns the service name that publishes the task.
func (p *Proxy) Service() string { return p.service }

// Path returns the object path of the task.
func (p *Proxy) Path() bus.ObjectPath { return p.path }

func (p *Proxy) Start(ctx context.Context) error { return p.call(ctx, MethodStart) }

func (p *Proxy) Cancel(ctx context.Context) error { return p.call(ctx, MethodCancel) }

func (p *Proxy) Finish(ctx context.Context) error { return p.call(ctx, MethodFinish) }

// Result stores the result of the remote task in dst.
func (p *Proxy) Result(ctx context.Context, dst any) error {
	body, err := p.conn.Call(ctx, p.service, p.path, TaskInterface, MethodGetResult)
	if err != nil {
		return fromWireError(err)
	}
	if err := body.Store(dst); err != nil {
		return fmt.Errorf("invalid task result: %w", err)
	}
	return nil
}

// Progress returns the current progress of the remote task.
func (p *Proxy) Progress(ctx context.Context) (model.Progress, error) {
	var v ProgressValue
	if err := p.property(ctx, PropertyProgress, &v); err != nil {
		return model.Progress{}, err
	}
	return v.model(), nil
}

// IsRunning returns true if the remote task is running.
func (p *Proxy) IsRunning(ctx context.Context) (bool, error) {
	var running bool
	if err := p.property(ctx, PropertyIsRunning, &running); err != nil {
		return false, err
	}
	return running, nil
}

func (p *Proxy) Subscribe(h Handlers) (signal.Handle, error) {
	g := &signal.Group{}

	subscribe := func(member string, fn func(bus.Signal)) error {
		handle, err := p.conn.Subscribe(bus.Match{
			Sender:    p.service,
			Path:      p.path,
			Interface: TaskInterface,
			Member:    member,
		}, fn)
		if err != nil {
			return fmt.Errorf("could not subscribe to %s: %w", member, err)
		}
		g.Add(handle)
		return nil
	}
	simple := func(member string, fn func()) error {
		if fn == nil {
			return nil
		}
		return subscribe(member, func(bus.Signal) { fn() })
	}

	err := simple(SignalStarted, h.Started)
	if err == nil && h.ProgressChanged != nil {
		err = subscribe(SignalProgressChanged, func(s bus.Signal) {
			var v ProgressValue
			if err := s.Body.Store(&v.Step, &v.Message); err != nil {
				p.logger.Warningf("Invalid progress signal: %s", err)
				return
			}
			h.ProgressChanged(v.model())
		})
	}
	if err == nil {
		err = simple(SignalSucceeded, h.Succeeded)
	}
	if err == nil {
		err = simple(SignalFailed, h.Failed)
	}
	if err == nil {
		err = simple(SignalStopped, h.Stopped)
	}
	if err == nil && h.Disconnected != nil {
		var handle signal.Handle
		handle, err = p.conn.WatchName(p.service, func(owned bool) {
			if !owned {
				p.logger.Warningf("Task service left the bus")
				h.Disconnected()
			}
		})
		if err == nil {
			g.Add(handle)
		}
	}
	if err != nil {
		g.Disconnect()
		return nil, err
	}

	return g, nil
}

func (p *Proxy) call(ctx context.Context, method string) error {
	if _, err := p.conn.Call(ctx, p.service, p.path, TaskInterface, method); err != nil {
		return fromWireError(err)
	}
	return nil
}

func (p *Proxy) property(ctx context.Context, name string, dst any) error {
	body, err := p.conn.GetProperty(ctx, p.service, p.path, TaskInterface, name)
	if err != nil {
		return fmt.Errorf("could not get %s of task %s: %w", name, p.path, fromWireError(err))
	}
	if err := body.Store(dst); err != nil {
		return fmt.Errorf("invalid %s of task %s: %w", name, p.path, err)
	}
	return nil
}
