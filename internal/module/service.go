package module

import (
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/task"
	"github.com/slok/taskvisor/internal/taskbus"
)

// Handler is the implementation of a module.
type Handler interface {
	// PhaseTasks returns the ordered tasks of the module for an installation phase.
	PhaseTasks(phase model.Phase) ([]task.Runnable, error)
	SetLocale(locale string) error
	CollectRequirements() ([]model.Requirement, error)
	// KickstartCommands returns the kickstart commands handled by the module.
	KickstartCommands() []string
	// ReadKickstart processes the kickstart section of the module, line numbers
	// of the report are relative to the section.
	ReadKickstart(section string) (model.KickstartReport, error)
	GenerateKickstart() (string, error)
}

// ServiceConfig is the configuration of a module service.
type ServiceConfig struct {
	Name    string
	Handler Handler
	Conn    bus.Conn
	// Dispatcher is where the signals of the module tasks are emitted.
	Dispatcher loop.Dispatcher
	// QuitDelay is the time the service waits after a Quit request before
	// leaving the bus, so the reply can be delivered.
	QuitDelay       time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Handler == nil {
		return fmt.Errorf("handler is required")
	}
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Dispatcher == nil {
		c.Dispatcher = loop.Immediate
	}
	if c.QuitDelay == 0 {
		c.QuitDelay = 100 * time.Millisecond
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "module.Service", "module": c.Name})
	return nil
}

// Service publishes a module on the bus.
type Service struct {
	cfg    ServiceConfig
	logger log.Logger

	mu       sync.Mutex
	tasks    []*taskbus.Interface
	quitOnce sync.Once
	leaving  chan struct{}
	done     chan struct{}
}

// NewService returns a new module service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger,
		leaving: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Publish exports the root object and takes the service name. The root object
// is available when the name is owned.
func (s *Service) Publish() error {
	root := bus.Interface{
		Name: Interface,
		Methods: map[string]any{
			MethodSetLocale:           s.setLocale,
			MethodCollectRequirements: s.collectRequirements,
			MethodKickstartCommands:   s.kickstartCommands,
			MethodReadKickstart:       s.readKickstart,
			MethodGenerateKickstart:   s.generateKickstart,
			MethodQuit:                s.quit,
		},
		Properties: map[string]func() any{},
	}
	for _, p := range model.Phases() {
		phase := p
		root.Methods[phase.ModuleMethod()] = func() ([]bus.ObjectPath, error) { return s.phaseTasks(phase) }
	}

	if err := s.cfg.Conn.Export(RootPath(s.cfg.Name), root); err != nil {
		return fmt.Errorf("could not export module: %w", err)
	}
	if err := s.cfg.Conn.RequestName(s.cfg.Name); err != nil {
		_ = s.cfg.Conn.Unexport(RootPath(s.cfg.Name), Interface)
		return fmt.Errorf("could not request module name: %w", err)
	}
	s.logger.Infof("Module published")

	return nil
}

// Quit removes the module from the bus after the quit delay.
func (s *Service) Quit() {
	s.quitOnce.Do(func() {
		s.logger.Debugf("Module quit requested")
		close(s.leaving)
		time.AfterFunc(s.cfg.QuitDelay, s.shutdown)
	})
}

// Leaving is closed when the module has been asked to quit.
func (s *Service) Leaving() <-chan struct{} { return s.leaving }

// Done is closed when the module has left the bus.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) shutdown() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		if err := t.Unpublish(); err != nil {
			s.logger.Warningf("Could not unpublish task: %s", err)
		}
	}
	if err := s.cfg.Conn.Unexport(RootPath(s.cfg.Name), Interface); err != nil {
		s.logger.Warningf("Could not unexport module: %s", err)
	}
	if err := s.cfg.Conn.ReleaseName(s.cfg.Name); err != nil {
		s.logger.Warningf("Could not release module name: %s", err)
	}

	s.logger.Infof("Module stopped")
	close(s.done)
}

// phaseTasks publishes the tasks of a phase, every call returns new tasks.
func (s *Service) phaseTasks(phase model.Phase) ([]bus.ObjectPath, error) {
	runnables, err := s.cfg.Handler.PhaseTasks(phase)
	if err != nil {
		return nil, err
	}

	paths := make([]bus.ObjectPath, 0, len(runnables))
	for _, r := range runnables {
		iface, err := s.PublishTask(r, nil)
		if err != nil {
			return nil, err
		}
		paths = append(paths, iface.Path())
	}
	s.logger.Debugf("%d tasks published for %s", len(paths), phase)

	return paths, nil
}

// PublishTask publishes a task of the module.
func (s *Service) PublishTask(r task.Runnable, conv taskbus.ResultConverter) (*taskbus.Interface, error) {
	t, err := task.New(task.TaskConfig{
		Runnable:        r,
		Dispatcher:      s.cfg.Dispatcher,
		MetricsRecorder: s.cfg.MetricsRecorder,
		Logger:          s.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task %q: %w", r.Name(), err)
	}

	iface, err := taskbus.Publish(taskbus.PublishConfig{
		Task:          t,
		Conn:          s.cfg.Conn,
		Path:          bus.NewObjectPath(TasksPath(s.cfg.Name)),
		ConvertResult: conv,
		Logger:        s.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, iface)
	s.mu.Unlock()

	return iface, nil
}

func (s *Service) setLocale(locale string) error {
	s.logger.Debugf("Locale set to %s", locale)
	return s.cfg.Handler.SetLocale(locale)
}

func (s *Service) collectRequirements() ([]RequirementValue, error) {
	reqs, err := s.cfg.Handler.CollectRequirements()
	if err != nil {
		return nil, err
	}
	return toRequirementValues(reqs), nil
}

func (s *Service) kickstartCommands() ([]string, error) {
	return s.cfg.Handler.KickstartCommands(), nil
}

func (s *Service) readKickstart(section string) (KickstartReportValue, error) {
	report, err := s.cfg.Handler.ReadKickstart(section)
	if err != nil {
		return KickstartReportValue{}, err
	}
	return toReportValue(report), nil
}

func (s *Service) generateKickstart() (string, error) {
	return s.cfg.Handler.GenerateKickstart()
}

func (s *Service) quit() error {
	s.Quit()
	return nil
}
