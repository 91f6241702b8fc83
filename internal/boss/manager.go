package boss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module"
	"github.com/slok/taskvisor/internal/signal"
)

// ModuleManagerConfig is the configuration of the module manager.
type ModuleManagerConfig struct {
	Conn bus.Conn
	// StartTimeout is the time every module has to appear on the bus.
	StartTimeout time.Duration
	// TolerateOptional doesn't fail the start when optional modules don't appear.
	TolerateOptional bool
	MetricsRecorder  metrics.Recorder
	Logger           log.Logger
}

func (c *ModuleManagerConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 5 * time.Second
	}
	if c.StartTimeout < 0 {
		return fmt.Errorf("start timeout can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "boss.ModuleManager"})
	return nil
}

// ModuleManager owns the fleet of modules of the installation.
type ModuleManager struct {
	cfg    ModuleManagerConfig
	logger log.Logger

	mu        sync.Mutex
	observers []*ModuleObserver
	// ObserversChanged is emitted every time the observers or their availability change.
	ObserversChanged *signal.Signal[struct{}]
}

// NewModuleManager returns a new module manager.
func NewModuleManager(cfg ModuleManagerConfig) (*ModuleManager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ModuleManager{
		cfg:              cfg,
		logger:           cfg.Logger,
		ObserversChanged: signal.New[struct{}](),
	}, nil
}

// AddModule records a module as expected.
func (m *ModuleManager) AddModule(mod model.Module) error {
	client, err := module.NewClient(module.ClientConfig{Conn: m.cfg.Conn, Service: mod.Service, Logger: m.cfg.Logger})
	if err != nil {
		return fmt.Errorf("could not create module %q client: %w", mod.Service, err)
	}

	m.mu.Lock()
	for _, o := range m.observers {
		if o.module.Service == mod.Service {
			m.mu.Unlock()
			return fmt.Errorf("module %q: %w", mod.Service, model.ErrAlreadyExists)
		}
	}
	m.observers = append(m.observers, &ModuleObserver{module: mod, client: client})
	m.mu.Unlock()

	m.logger.Debugf("Module %s added", mod.Service)
	m.ObserversChanged.Emit(struct{}{})
	return nil
}

// Observers returns a snapshot of the observers in declaration order.
func (m *ModuleManager) Observers() []*ModuleObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ModuleObserver(nil), m.observers...)
}

// AvailableObservers returns the observers of the modules on the bus in declaration order.
func (m *ModuleManager) AvailableObservers() []*ModuleObserver {
	var available []*ModuleObserver
	for _, o := range m.Observers() {
		if o.Available() {
			available = append(available, o)
		}
	}
	return available
}

// Statuses returns the observed status of every module in declaration order.
func (m *ModuleManager) Statuses() []model.ModuleStatus {
	observers := m.Observers()
	statuses := make([]model.ModuleStatus, 0, len(observers))
	for _, o := range observers {
		statuses = append(statuses, o.Status())
	}
	return statuses
}

// StartModules starts all the expected modules concurrently and waits until
// they are on the bus. The root object of a module is published before it
// takes its name.
func (m *ModuleManager) StartModules(ctx context.Context) ([]*ModuleObserver, error) {
	observers := m.Observers()

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range observers {
		g.Go(func() error {
			err := m.startModule(gctx, o)
			if err == nil {
				return nil
			}
			if o.module.Optional && m.cfg.TolerateOptional {
				m.logger.Warningf("Optional module %s is not available: %s", o.module.Service, err)
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	m.ObserversChanged.Emit(struct{}{})
	if err != nil {
		return nil, err
	}

	available := m.AvailableObservers()
	m.logger.Infof("%d of %d modules started", len(available), len(observers))
	return available, nil
}

func (m *ModuleManager) startModule(ctx context.Context, o *ModuleObserver) error {
	service := o.module.Service
	logger := m.logger.WithValues(log.Kv{"module": service})

	owned := make(chan struct{})
	var once sync.Once
	h, err := m.cfg.Conn.WatchName(service, func(isOwned bool) {
		if o.setAvailable(isOwned) {
			m.cfg.MetricsRecorder.SetModuleAvailable(service, isOwned)
			if !isOwned {
				logger.Warningf("Module left the bus")
			}
			m.ObserversChanged.Emit(struct{}{})
		}
		if isOwned {
			once.Do(func() { close(owned) })
		}
	})
	if err != nil {
		return fmt.Errorf("could not watch module %s: %w", service, err)
	}
	o.setWatch(h)

	timeout := time.NewTimer(m.cfg.StartTimeout)
	defer timeout.Stop()

	ownedNow, err := m.cfg.Conn.NameHasOwner(ctx, service)
	if err != nil {
		return fmt.Errorf("could not check module %s: %w", service, err)
	}
	if !ownedNow {
		logger.Debugf("Starting module")
		if err := m.cfg.Conn.StartService(ctx, service); err != nil {
			m.cfg.MetricsRecorder.SetModuleAvailable(service, false)
			return model.NewError(model.ErrorKindModuleStartTimeout, "module %s could not be started: %s", service, err)
		}
		ownedNow, err = m.cfg.Conn.NameHasOwner(ctx, service)
		if err != nil {
			return fmt.Errorf("could not check module %s: %w", service, err)
		}
	}

	if !ownedNow {
		select {
		case <-owned:
		case <-timeout.C:
			m.cfg.MetricsRecorder.SetModuleAvailable(service, false)
			return model.NewError(model.ErrorKindModuleStartTimeout, "module %s didn't appear in %s", service, m.cfg.StartTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if o.setAvailable(true) {
		m.cfg.MetricsRecorder.SetModuleAvailable(service, true)
	}
	logger.Infof("Module is available")
	return nil
}

// StopModules asks the available modules to quit and releases the observers.
// Modules that can't be reached are ignored.
func (m *ModuleManager) StopModules(ctx context.Context) {
	m.mu.Lock()
	observers := m.observers
	m.observers = nil
	m.mu.Unlock()

	for _, o := range observers {
		available := o.Available()
		o.release()
		if !available {
			continue
		}

		if err := o.client.Quit(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warningf("Could not quit module %s: %s", o.module.Service, err)
		}
		m.cfg.MetricsRecorder.SetModuleAvailable(o.module.Service, false)
	}

	m.logger.Infof("Modules stopped")
	m.ObserversChanged.Emit(struct{}{})
}
