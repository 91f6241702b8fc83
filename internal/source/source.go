// Package source sets up and tears down the installation sources.
package source

import (
	"context"
	"fmt"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/metrics"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/task"
)

// Source is an installation source.
type Source interface {
	// Name identifies the source.
	Name() string
	// SetUpWithTasks returns the ordered tasks that set up the source.
	SetUpWithTasks() []task.Runnable
	// TearDownWithTasks returns the ordered tasks that tear down the source.
	TearDownWithTasks() []task.Runnable
}

// SourcesConfig is the configuration of the source tasks.
type SourcesConfig struct {
	Sources []Source
	// Dispatcher is where the signals of the source tasks are emitted.
	Dispatcher      loop.Dispatcher
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *SourcesConfig) defaults(svc string) error {
	for i, s := range c.Sources {
		if s == nil {
			return fmt.Errorf("source %d is missing", i)
		}
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": svc})
	return nil
}

// runTask runs a source task until it's finished.
func runTask(ctx context.Context, cfg SourcesConfig, r task.Runnable) error {
	t, err := task.New(task.TaskConfig{
		Runnable:        r,
		Dispatcher:      cfg.Dispatcher,
		MetricsRecorder: cfg.MetricsRecorder,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}
	return task.SyncRun(ctx, t)
}

// SetUpTask sets up all the sources in order, the first failure stops the
// set up. The already set up sources are not torn down.
type SetUpTask struct {
	cfg SourcesConfig
}

// NewSetUpTask returns a new sources set up task.
func NewSetUpTask(cfg SourcesConfig) (*SetUpTask, error) {
	if err := cfg.defaults("source.SetUpTask"); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SetUpTask{cfg: cfg}, nil
}

func (t *SetUpTask) Name() string  { return "Set up installation sources" }
func (t *SetUpTask) Steps() int    { return len(t.cfg.Sources) }
func (t *SetUpTask) Class() string { return "SetUpSourcesTask" }

func (t *SetUpTask) Run(ctx context.Context, r task.Reporter) (any, error) {
	if len(t.cfg.Sources) == 0 {
		return nil, model.ErrNoSourcesConfigured
	}

	for _, s := range t.cfg.Sources {
		r.ReportProgress(fmt.Sprintf("Setting up %s", s.Name()), task.WithStepSize(1))

		for _, st := range s.SetUpWithTasks() {
			if r.CheckCancel() {
				return nil, nil
			}

			t.cfg.Logger.Debugf("Running %q of source %s", st.Name(), s.Name())
			if err := runTask(ctx, t.cfg, st); err != nil {
				return nil, &model.SourceSetupError{Source: s.Name(), Err: err}
			}
		}
	}

	return nil, nil
}

// TearDownTask tears down all the sources. Every tear down task is run even
// when previous ones failed, all the failures are returned at the end.
type TearDownTask struct {
	cfg SourcesConfig
}

// NewTearDownTask returns a new sources tear down task.
func NewTearDownTask(cfg SourcesConfig) (*TearDownTask, error) {
	if err := cfg.defaults("source.TearDownTask"); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &TearDownTask{cfg: cfg}, nil
}

func (t *TearDownTask) Name() string  { return "Tear down installation sources" }
func (t *TearDownTask) Steps() int    { return len(t.cfg.Sources) }
func (t *TearDownTask) Class() string { return "TearDownSourcesTask" }

// Run tears down the sources. The cancellation of the task is ignored, a
// partial tear down would leave the sources in use.
func (t *TearDownTask) Run(ctx context.Context, r task.Reporter) (any, error) {
	ctx = context.WithoutCancel(ctx)

	var failures []model.TearDownFailure
	for _, s := range t.cfg.Sources {
		r.ReportProgress(fmt.Sprintf("Tearing down %s", s.Name()), task.WithStepSize(1))

		for _, st := range s.TearDownWithTasks() {
			err := runTask(ctx, t.cfg, st)
			if err == nil {
				continue
			}

			t.cfg.Logger.Errorf("Failed to tear down source %s with %q: %s", s.Name(), st.Name(), err)
			failures = append(failures, model.TearDownFailure{
				Source: s.Name(),
				Task:   st.Name(),
				Reason: err,
			})
		}
	}

	if len(failures) > 0 {
		return nil, &model.TearDownError{Failures: failures}
	}

	return nil, nil
}
