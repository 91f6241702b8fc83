package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/bus/memory"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/module"
)

// LauncherConfig is the configuration of the launcher.
type LauncherConfig struct {
	Broker  *memory.Broker
	Modules []ModuleConfig
	// StartDelays simulate slow starting modules by service name.
	StartDelays     map[string]time.Duration
	QuitDelay       time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Broker == nil {
		return fmt.Errorf("broker is required")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// Launcher registers the fake modules as activatable services of an
// in-process broker. Every activated module runs with its own connection
// and event loop, like a process would.
type Launcher struct {
	cfg     LauncherConfig
	logger  log.Logger
	modules map[string]*Module

	wg        sync.WaitGroup
	mu        sync.Mutex
	processes map[string]*process
	stopped   bool
}

// process is a running module.
type process struct {
	stop func()
	// leaving is closed when the module starts leaving the bus.
	leaving <-chan struct{}
	// stopped is closed when the process has ended.
	stopped chan struct{}
}

// NewLauncher returns a new launcher with the modules registered on the broker.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Launcher{
		cfg:       cfg,
		logger:    cfg.Logger.WithValues(log.Kv{"svc": "fake.Launcher"}),
		modules:   map[string]*Module{},
		processes: map[string]*process{},
	}

	for _, mcfg := range cfg.Modules {
		if mcfg.Logger == nil {
			mcfg.Logger = cfg.Logger
		}
		m, err := NewModule(mcfg)
		if err != nil {
			return nil, fmt.Errorf("could not create module %q: %w", mcfg.Service, err)
		}
		if _, ok := l.modules[mcfg.Service]; ok {
			return nil, fmt.Errorf("module %q is duplicated", mcfg.Service)
		}
		l.modules[mcfg.Service] = m
		cfg.Broker.RegisterActivator(mcfg.Service, l.activator(m))
	}

	return l, nil
}

// Module returns the fake module of a service.
func (l *Launcher) Module(service string) (*Module, bool) {
	m, ok := l.modules[service]
	return m, ok
}

// Stop stops the running modules and waits for them.
func (l *Launcher) Stop() {
	l.mu.Lock()
	l.stopped = true
	procs := make([]*process, 0, len(l.processes))
	for _, p := range l.processes {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	for _, p := range procs {
		p.stop()
	}
	l.wg.Wait()
}

func (l *Launcher) activator(m *Module) memory.Activator {
	return func(ctx context.Context) error {
		for {
			l.mu.Lock()
			if l.stopped {
				l.mu.Unlock()
				return fmt.Errorf("launcher is stopped")
			}
			p, ok := l.processes[m.cfg.Service]
			if !ok {
				break
			}
			l.mu.Unlock()

			// A module that is leaving the bus is started again once it has ended.
			select {
			case <-p.leaving:
			default:
				return nil
			}
			select {
			case <-p.stopped:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Placeholder until the module is on the bus.
		l.processes[m.cfg.Service] = &process{stop: func() {}, stopped: make(chan struct{})}
		l.mu.Unlock()

		if d := l.cfg.StartDelays[m.cfg.Service]; d > 0 {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()

				time.Sleep(d)
				if err := l.launch(m); err != nil {
					l.logger.Errorf("Could not launch module %s: %s", m.cfg.Service, err)
				}
			}()
			return nil
		}

		return l.launch(m)
	}
}

func (l *Launcher) launch(m *Module) (err error) {
	defer func() {
		if err != nil {
			l.mu.Lock()
			delete(l.processes, m.cfg.Service)
			l.mu.Unlock()
		}
	}()

	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return fmt.Errorf("launcher is stopped")
	}

	logger := l.cfg.Logger.WithValues(log.Kv{"module": m.cfg.Service})

	lp, err := loop.New(loop.LoopConfig{Name: m.cfg.Service, Logger: logger})
	if err != nil {
		return err
	}
	conn, err := l.cfg.Broker.Connect(memory.ConnConfig{Dispatcher: lp, Logger: logger})
	if err != nil {
		return err
	}
	svc, err := module.NewService(module.ServiceConfig{
		Name:            m.cfg.Service,
		Handler:         m,
		Conn:            conn,
		Dispatcher:      lp,
		QuitDelay:       l.cfg.QuitDelay,
		MetricsRecorder: l.cfg.MetricsRecorder,
		Logger:          l.cfg.Logger,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = lp.Run(ctx)
	}()

	if err := svc.Publish(); err != nil {
		lp.Quit()
		<-loopDone
		cancel()
		_ = conn.Close()
		return err
	}

	p := &process{leaving: svc.Leaving(), stopped: make(chan struct{})}
	var stopOnce sync.Once
	p.stop = func() {
		stopOnce.Do(func() {
			lp.Quit()
			<-loopDone
			cancel()
			_ = conn.Close()

			l.mu.Lock()
			if l.processes[m.cfg.Service] == p {
				delete(l.processes, m.cfg.Service)
			}
			l.mu.Unlock()
			close(p.stopped)
			logger.Debugf("Module process stopped")
		})
	}

	l.mu.Lock()
	l.processes[m.cfg.Service] = p
	l.mu.Unlock()

	// The module process ends when it leaves the bus.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-svc.Done():
		case <-ctx.Done():
		}
		p.stop()
	}()

	return nil
}
