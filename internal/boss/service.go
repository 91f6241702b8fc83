package boss

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module"
	"github.com/slok/taskvisor/internal/task"
	"github.com/slok/taskvisor/internal/taskbus"
)

const (
	// ServiceName is the bus name of the boss.
	ServiceName = "org.taskvisor.Boss"
	// Interface is the bus interface of the boss.
	Interface = "org.taskvisor.Boss"

	MethodGetModules           = "GetModules"
	MethodStartModulesWithTask = "StartModulesWithTask"
	MethodReadKickstartFile    = "ReadKickstartFile"
	MethodGenerateKickstart    = "GenerateKickstart"
	MethodSetLocale            = "SetLocale"
	MethodCollectRequirements  = "CollectRequirements"
	MethodQuit                 = "Quit"

	moduleQuitTimeout = 5 * time.Second
	phaseCallTimeout  = 30 * time.Second
)

// ObjectPath is the object path of the boss.
var ObjectPath = bus.ServicePath(ServiceName)

// TasksPath is the namespace of the tasks published by the boss.
var TasksPath = ObjectPath.Child("Tasks")

var phaseMethods = map[model.Phase]struct{ withTask, collect string }{
	model.PhaseConfigureRuntime: {withTask: "ConfigureRuntimeWithTask", collect: "CollectConfigureRuntimeTasks"},
	model.PhaseInstallSystem:    {withTask: "InstallSystemWithTask", collect: "CollectInstallSystemTasks"},
}

// PhaseTaskMethod returns the boss method that returns the meta task of a phase.
func PhaseTaskMethod(p model.Phase) string { return phaseMethods[p].withTask }

// CollectTasksMethod returns the boss method that returns the module tasks of a phase.
func CollectTasksMethod(p model.Phase) string { return phaseMethods[p].collect }

// TaskRefValue is the bus representation of a module task reference.
type TaskRefValue struct {
	Service string
	Path    bus.ObjectPath
}

// KickstartMessageValue is the bus representation of a kickstart message of a module.
type KickstartMessageValue struct {
	Service    string
	LineNumber int32
	Message    string
}

// KickstartReportValue is the bus representation of a kickstart report.
type KickstartReportValue struct {
	Errors   []KickstartMessageValue
	Warnings []KickstartMessageValue
}

// Quitter knows how to stop the main loop of the process.
type Quitter interface {
	QuitAfter(d time.Duration)
}

// ServiceConfig is the configuration of the boss service.
type ServiceConfig struct {
	Boss *Boss
	Conn bus.Conn
	// Dispatcher is where the signals of the boss tasks are emitted.
	Dispatcher loop.Dispatcher
	// Quitter is stopped after the QuitDelay when the boss is asked to quit.
	Quitter         Quitter
	QuitDelay       time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Boss == nil {
		return fmt.Errorf("boss is required")
	}
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Dispatcher == nil {
		c.Dispatcher = loop.Immediate
	}
	if c.QuitDelay == 0 {
		c.QuitDelay = 200 * time.Millisecond
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "boss.Service"})
	return nil
}

// Service publishes the boss on the bus.
type Service struct {
	cfg    ServiceConfig
	boss   *Boss
	logger log.Logger

	mu    sync.Mutex
	tasks []*taskbus.Interface
	quit  chan struct{}
	once  sync.Once
}

// NewService returns a new boss service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		cfg:    cfg,
		boss:   cfg.Boss,
		logger: cfg.Logger,
		quit:   make(chan struct{}),
	}, nil
}

// Publish exports the boss object and takes the boss name.
func (s *Service) Publish() error {
	iface := bus.Interface{
		Name: Interface,
		Methods: map[string]any{
			MethodGetModules:           s.getModules,
			MethodStartModulesWithTask: s.startModulesWithTask,
			MethodReadKickstartFile:    s.readKickstartFile,
			MethodGenerateKickstart:    s.generateKickstart,
			MethodSetLocale:            s.setLocale,
			MethodCollectRequirements:  s.collectRequirements,
			MethodQuit:                 s.quitMethod,
		},
		Properties: map[string]func() any{},
	}
	for _, p := range model.Phases() {
		phase := p
		iface.Methods[CollectTasksMethod(phase)] = func() ([]TaskRefValue, error) { return s.collectPhaseTasks(phase) }
		iface.Methods[PhaseTaskMethod(phase)] = func() (bus.ObjectPath, error) { return s.phaseWithTask(phase) }
	}

	if err := s.cfg.Conn.Export(ObjectPath, iface); err != nil {
		return fmt.Errorf("could not export boss: %w", err)
	}
	if err := s.cfg.Conn.RequestName(ServiceName); err != nil {
		_ = s.cfg.Conn.Unexport(ObjectPath, Interface)
		return fmt.Errorf("could not request boss name: %w", err)
	}
	s.logger.Infof("Boss published")

	return nil
}

// Quitting is closed when the boss has been asked to quit.
func (s *Service) Quitting() <-chan struct{} { return s.quit }

// Quit stops the modules and schedules the stop of the main loop.
func (s *Service) Quit(ctx context.Context) {
	s.once.Do(func() {
		s.logger.Infof("Quitting")
		s.boss.Stop(ctx)

		s.mu.Lock()
		tasks := s.tasks
		s.tasks = nil
		s.mu.Unlock()
		for _, t := range tasks {
			if err := t.Unpublish(); err != nil {
				s.logger.Warningf("Could not unpublish task: %s", err)
			}
		}

		close(s.quit)
		if s.cfg.Quitter != nil {
			s.cfg.Quitter.QuitAfter(s.cfg.QuitDelay)
		}
	})
}

// PublishTask publishes a task of the boss.
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
		Path:          bus.NewObjectPath(TasksPath),
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

// observerServices converts the result of the start modules task to the
// service names of the available modules.
func observerServices(result any) (any, error) {
	observers, ok := result.([]*ModuleObserver)
	if !ok {
		return nil, model.NewError(model.ErrorKindNoResult, "unexpected result %T", result)
	}
	services := make([]string, 0, len(observers))
	for _, o := range observers {
		services = append(services, o.Service())
	}
	return services, nil
}

func (s *Service) getModules() ([]string, error) {
	mods := s.boss.Modules()
	if mods == nil {
		mods = []string{}
	}
	return mods, nil
}

func (s *Service) startModulesWithTask() (bus.ObjectPath, error) {
	iface, err := s.PublishTask(s.boss.StartModulesTask(), observerServices)
	if err != nil {
		return "", err
	}
	return iface.Path(), nil
}

func (s *Service) readKickstartFile(path string) (KickstartReportValue, error) {
	report, err := s.boss.ReadKickstartFile(context.Background(), path)
	if err != nil {
		return KickstartReportValue{}, err
	}
	return toReportValue(report), nil
}

func (s *Service) generateKickstart() (string, error) {
	return s.boss.GenerateKickstart(context.Background())
}

func (s *Service) setLocale(locale string) error {
	return s.boss.SetLocale(context.Background(), locale)
}

func (s *Service) collectRequirements() ([]module.RequirementValue, error) {
	reqs, err := s.boss.CollectRequirements(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]module.RequirementValue, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, module.RequirementValue(r))
	}
	return out, nil
}

func (s *Service) collectPhaseTasks(phase model.Phase) ([]TaskRefValue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), phaseCallTimeout)
	defer cancel()

	refs, err := s.boss.CollectPhaseTasks(ctx, phase)
	if err != nil {
		return nil, err
	}
	out := make([]TaskRefValue, 0, len(refs))
	for _, r := range refs {
		out = append(out, TaskRefValue{Service: r.Service, Path: bus.ObjectPath(r.Path)})
	}
	return out, nil
}

func (s *Service) phaseWithTask(phase model.Phase) (bus.ObjectPath, error) {
	ctx, cancel := context.WithTimeout(context.Background(), phaseCallTimeout)
	defer cancel()

	mt, err := s.boss.PhaseTask(ctx, phase)
	if err != nil {
		return "", err
	}
	iface, err := s.PublishTask(mt, nil)
	if err != nil {
		return "", err
	}
	return iface.Path(), nil
}

func (s *Service) quitMethod() error {
	// The reply must be sent before the modules are stopped.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), moduleQuitTimeout)
		defer cancel()
		s.Quit(ctx)
	}()
	return nil
}

func toReportValue(r model.KickstartReport) KickstartReportValue {
	conv := func(msgs []model.KickstartMessage) []KickstartMessageValue {
		out := make([]KickstartMessageValue, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, KickstartMessageValue{Service: m.Service, LineNumber: int32(m.LineNumber), Message: m.Message})
		}
		return out
	}
	return KickstartReportValue{Errors: conv(r.Errors), Warnings: conv(r.Warnings)}
}

func fromReportValue(v KickstartReportValue) model.KickstartReport {
	conv := func(msgs []KickstartMessageValue) []model.KickstartMessage {
		var out []model.KickstartMessage
		for _, m := range msgs {
			out = append(out, model.KickstartMessage{Service: m.Service, LineNumber: int(m.LineNumber), Message: m.Message})
		}
		return out
	}
	return model.KickstartReport{Errors: conv(v.Errors), Warnings: conv(v.Warnings)}
}
