// Package fake implements configurable installer modules that simulate their
// work, they are used to demo and test the supervision of an installation.
package fake

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/source"
	"github.com/slok/taskvisor/internal/task"
)

// TaskSpec describes a simulated task.
type TaskSpec struct {
	Name  string
	Steps int
	// StepDelay is the time every step takes.
	StepDelay time.Duration
	// FailAtStep makes the task fail when it reaches the step, zero never fails.
	FailAtStep int
}

// SourceSpec describes a simulated installation source.
type SourceSpec struct {
	Name     string
	SetUp    []TaskSpec
	TearDown []TaskSpec
}

// ModuleConfig is the configuration of a fake module.
type ModuleConfig struct {
	Service           string
	ConfigureTasks    []TaskSpec
	InstallTasks      []TaskSpec
	Requirements      []model.Requirement
	KickstartCommands []string
	// Sources are set up before and torn down after the install tasks.
	Sources []SourceSpec
	Logger  log.Logger
}

func (c *ModuleConfig) defaults() error {
	if c.Service == "" {
		return fmt.Errorf("service is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "fake.Module", "module": c.Service})
	return nil
}

// Module is a fake installer module.
type Module struct {
	cfg    ModuleConfig
	logger log.Logger

	mu        sync.Mutex
	locale    string
	kickstart []string
}

// NewModule returns a new fake module.
func NewModule(cfg ModuleConfig) (*Module, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Module{cfg: cfg, logger: cfg.Logger}, nil
}

// Locale returns the last locale set on the module.
func (m *Module) Locale() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locale
}

func (m *Module) PhaseTasks(phase model.Phase) ([]task.Runnable, error) {
	switch phase {
	case model.PhaseConfigureRuntime:
		return m.runnables(m.cfg.ConfigureTasks), nil
	case model.PhaseInstallSystem:
		rs := m.runnables(m.cfg.InstallTasks)
		if len(m.cfg.Sources) == 0 {
			return rs, nil
		}

		sources := make([]source.Source, 0, len(m.cfg.Sources))
		for _, s := range m.cfg.Sources {
			sources = append(sources, fakeSource{spec: s, m: m})
		}
		setUp, err := source.NewSetUpTask(source.SourcesConfig{Sources: sources, Logger: m.logger})
		if err != nil {
			return nil, err
		}
		tearDown, err := source.NewTearDownTask(source.SourcesConfig{Sources: sources, Logger: m.logger})
		if err != nil {
			return nil, err
		}

		return append(append([]task.Runnable{setUp}, rs...), tearDown), nil
	}

	return nil, fmt.Errorf("unknown phase %q: %w", phase, model.ErrNotValid)
}

func (m *Module) SetLocale(locale string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locale = locale
	return nil
}

func (m *Module) CollectRequirements() ([]model.Requirement, error) {
	return m.cfg.Requirements, nil
}

func (m *Module) KickstartCommands() []string { return m.cfg.KickstartCommands }

// ReadKickstart stores the section, the commands not handled by the module
// are reported as errors. The lines of `%section` blocks are not checked.
func (m *Module) ReadKickstart(section string) (model.KickstartReport, error) {
	report := model.KickstartReport{}
	var (
		lines   []string
		inBlock bool
	)
	for i, line := range strings.Split(section, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch {
		case inBlock:
			inBlock = fields[0] != "%end"
		case slices.Contains(m.cfg.KickstartCommands, fields[0]):
			inBlock = strings.HasPrefix(fields[0], "%")
		default:
			report.Errors = append(report.Errors, model.KickstartMessage{
				LineNumber: i + 1,
				Message:    fmt.Sprintf("unknown command %q", fields[0]),
			})
			continue
		}
		lines = append(lines, line)
	}

	m.mu.Lock()
	m.kickstart = lines
	m.mu.Unlock()

	return report, nil
}

func (m *Module) GenerateKickstart() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.kickstart) == 0 {
		return "", nil
	}
	return strings.Join(m.kickstart, "\n") + "\n", nil
}

func (m *Module) runnables(specs []TaskSpec) []task.Runnable {
	rs := make([]task.Runnable, 0, len(specs))
	for _, s := range specs {
		rs = append(rs, newTask(s, m.logger))
	}
	return rs
}

type fakeSource struct {
	spec SourceSpec
	m    *Module
}

func (s fakeSource) Name() string { return s.spec.Name }

func (s fakeSource) SetUpWithTasks() []task.Runnable { return s.m.runnables(s.spec.SetUp) }

func (s fakeSource) TearDownWithTasks() []task.Runnable { return s.m.runnables(s.spec.TearDown) }

// simulatedTask is a task that simulates its steps.
type simulatedTask struct {
	spec   TaskSpec
	logger log.Logger
}

func newTask(spec TaskSpec, logger log.Logger) *simulatedTask {
	if spec.Steps == 0 {
		spec.Steps = 1
	}
	return &simulatedTask{spec: spec, logger: logger}
}

func (t *simulatedTask) Name() string  { return t.spec.Name }
func (t *simulatedTask) Steps() int    { return t.spec.Steps }
func (t *simulatedTask) Class() string { return "SimulatedTask" }

func (t *simulatedTask) Run(ctx context.Context, r task.Reporter) (any, error) {
	logger := t.logger.WithCtxValues(ctx)
	for step := 1; step <= t.spec.Steps; step++ {
		if r.CheckCancel() {
			logger.Infof("Task cancelled at step %d", step)
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(t.spec.StepDelay):
		}

		if step == t.spec.FailAtStep {
			return nil, model.NewError(model.ErrorKindInstall, "%s failed at step %d", t.spec.Name, step)
		}
		r.ReportProgress(fmt.Sprintf("%s (%d/%d)", t.spec.Name, step, t.spec.Steps), task.WithStepNumber(step))
	}

	return nil, nil
}
