// Package boss supervises the installation: it owns the fleet of modules and
// assembles the tasks of the installation phases into meta tasks.
package boss

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/slok/taskvisor/internal/journal"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/metatask"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/signal"
	"github.com/slok/taskvisor/internal/task"
	"github.com/slok/taskvisor/internal/taskbus"
)

// BossConfig is the configuration of the boss.
type BossConfig struct {
	Manager         *ModuleManager
	KickstartRouter KickstartRouter
	Journal         journal.Journal
	// ReadFile reads the kickstart files, by default from the OS filesystem.
	ReadFile func(path string) ([]byte, error)
	Logger   log.Logger
}

func (c *BossConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("module manager is required")
	}
	if c.KickstartRouter == nil {
		c.KickstartRouter = CommandRouter{}
	}
	if c.Journal == nil {
		c.Journal = journal.Noop
	}
	if c.ReadFile == nil {
		c.ReadFile = os.ReadFile
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "boss.Boss"})
	return nil
}

// Boss supervises the installation.
type Boss struct {
	cfg     BossConfig
	manager *ModuleManager
	logger  log.Logger
	watch   signal.Handle

	mu     sync.Mutex
	locale string
	// phaseTasks are the collected tasks of the phases, they are collected
	// again when the observers change.
	phaseTasks map[model.Phase][]model.TaskRef
}

// NewBoss returns a new boss.
func NewBoss(cfg BossConfig) (*Boss, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Boss{
		cfg:        cfg,
		manager:    cfg.Manager,
		logger:     cfg.Logger,
		phaseTasks: map[model.Phase][]model.TaskRef{},
	}
	b.watch = cfg.Manager.ObserversChanged.Connect(func(struct{}) {
		b.mu.Lock()
		b.phaseTasks = map[model.Phase][]model.TaskRef{}
		b.mu.Unlock()
	})

	return b, nil
}

// Close releases the boss.
func (b *Boss) Close() { b.watch.Disconnect() }

// Manager returns the module manager of the boss.
func (b *Boss) Manager() *ModuleManager { return b.manager }

// Modules returns the service names of the available modules.
func (b *Boss) Modules() []string {
	var names []string
	for _, o := range b.manager.AvailableObservers() {
		names = append(names, o.Service())
	}
	return names
}

// Locale returns the locale of the installation.
func (b *Boss) Locale() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locale
}

// StartModulesTask returns the task that starts the modules, its result are
// the observers of the available modules.
func (b *Boss) StartModulesTask() task.Runnable {
	return &startModulesTask{boss: b}
}

type startModulesTask struct {
	boss *Boss
}

func (t *startModulesTask) Name() string  { return "Start the modules" }
func (t *startModulesTask) Steps() int    { return 1 }
func (t *startModulesTask) Class() string { return "StartModulesTask" }

func (t *startModulesTask) Run(ctx context.Context, r task.Reporter) (any, error) {
	observers, err := t.boss.manager.StartModules(ctx)
	if err != nil {
		return nil, err
	}

	// Started modules get the locale of the installation.
	if locale := t.boss.Locale(); locale != "" {
		if err := t.boss.forwardLocale(ctx, locale); err != nil {
			return nil, err
		}
	}
	r.ReportProgress("Modules started", task.WithStepNumber(1))

	return observers, nil
}

// SetLocale stores the locale and forwards it to every available module.
func (b *Boss) SetLocale(ctx context.Context, locale string) error {
	b.mu.Lock()
	b.locale = locale
	b.mu.Unlock()

	b.logger.Infof("Locale set to %s", locale)
	return b.forwardLocale(ctx, locale)
}

func (b *Boss) forwardLocale(ctx context.Context, locale string) error {
	var errs []error
	for _, o := range b.manager.AvailableObservers() {
		if err := o.Client().SetLocale(ctx, locale); err != nil {
			if b.optionalFailure(o, "set locale", err) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectRequirements returns the requirements of the modules in declaration order.
func (b *Boss) CollectRequirements(ctx context.Context) ([]model.Requirement, error) {
	reqs := []model.Requirement{}
	for _, o := range b.manager.AvailableObservers() {
		rs, err := o.Client().CollectRequirements(ctx)
		if err != nil {
			if b.optionalFailure(o, "collect requirements", err) {
				continue
			}
			return nil, err
		}
		reqs = append(reqs, rs...)
	}
	return reqs, nil
}

// ReadKickstartFile reads a kickstart file and hands every module its section.
func (b *Boss) ReadKickstartFile(ctx context.Context, path string) (model.KickstartReport, error) {
	data, err := b.cfg.ReadFile(path)
	if err != nil {
		return model.KickstartReport{}, fmt.Errorf("could not read kickstart file: %w", err)
	}
	return b.ReadKickstart(ctx, string(data))
}

// ReadKickstart hands every module its section of the kickstart. The line
// numbers of the report are the line numbers of the kickstart.
func (b *Boss) ReadKickstart(ctx context.Context, data string) (model.KickstartReport, error) {
	observers := b.manager.AvailableObservers()

	commands := make([]KickstartCommands, 0, len(observers))
	for _, o := range observers {
		cmds, err := o.Client().KickstartCommands(ctx)
		if err != nil {
			return model.KickstartReport{}, err
		}
		commands = append(commands, KickstartCommands{Service: o.Service(), Commands: cmds})
	}

	byService := map[string]*ModuleObserver{}
	for _, o := range observers {
		byService[o.Service()] = o
	}

	sections, errs := b.cfg.KickstartRouter.Route(data, commands)
	report := model.KickstartReport{Errors: errs}
	for _, s := range sections {
		o, ok := byService[s.Service]
		if !ok {
			return model.KickstartReport{}, fmt.Errorf("kickstart section of unknown module %q", s.Service)
		}
		r, err := o.Client().ReadKickstart(ctx, s.Data)
		if err != nil {
			return model.KickstartReport{}, err
		}
		for _, m := range r.Errors {
			m.LineNumber = s.FileLine(m.LineNumber)
			report.Errors = append(report.Errors, m)
		}
		for _, m := range r.Warnings {
			m.LineNumber = s.FileLine(m.LineNumber)
			report.Warnings = append(report.Warnings, m)
		}
	}

	b.logger.Infof("Kickstart read with %d errors and %d warnings", len(report.Errors), len(report.Warnings))
	return report, nil
}

// GenerateKickstart returns the kickstart of the installation made of the
// kickstarts of the modules in declaration order.
func (b *Boss) GenerateKickstart(ctx context.Context) (string, error) {
	var sb strings.Builder
	for _, o := range b.manager.AvailableObservers() {
		ks, err := o.Client().GenerateKickstart(ctx)
		if err != nil {
			return "", err
		}
		if ks == "" {
			continue
		}
		sb.WriteString(ks)
		if !strings.HasSuffix(ks, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// CollectPhaseTasks returns the tasks of the modules for a phase. The tasks
// are collected once until the observers change.
func (b *Boss) CollectPhaseTasks(ctx context.Context, phase model.Phase) ([]model.TaskRef, error) {
	b.mu.Lock()
	refs, ok := b.phaseTasks[phase]
	b.mu.Unlock()
	if ok {
		return refs, nil
	}

	proxies, err := b.phaseProxies(ctx, phase)
	if err != nil {
		return nil, err
	}
	refs = make([]model.TaskRef, 0, len(proxies))
	for _, p := range proxies {
		refs = append(refs, model.TaskRef{Service: p.Service(), Path: string(p.Path())})
	}

	b.mu.Lock()
	b.phaseTasks[phase] = refs
	b.mu.Unlock()

	return refs, nil
}

// PhaseTask returns a new meta task that runs the tasks of the modules for a phase.
func (b *Boss) PhaseTask(ctx context.Context, phase model.Phase) (*metatask.MetaTask, error) {
	proxies, err := b.phaseProxies(ctx, phase)
	if err != nil {
		return nil, err
	}

	subtasks := make([]taskbus.RemoteTask, 0, len(proxies))
	steps := make([]model.Step, 0, len(proxies))
	for _, p := range proxies {
		subtasks = append(subtasks, p)
		steps = append(steps, model.Step{Service: p.Service(), Name: p.Name()})
	}

	mt, err := metatask.New(metatask.MetaTaskConfig{
		Name:     phase.TaskName(),
		Subtasks: subtasks,
		Observer: &journalObserver{journal: b.cfg.Journal, phase: phase, steps: steps, logger: b.logger},
		Logger:   b.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	b.logger.Infof("%s task with %d subtasks and %d steps", phase.TaskName(), len(subtasks), mt.Steps())
	return mt, nil
}

// phaseProxies returns the proxies of the phase tasks of the available modules
// in declaration order.
func (b *Boss) phaseProxies(ctx context.Context, phase model.Phase) ([]*taskbus.Proxy, error) {
	if err := phase.Validate(); err != nil {
		return nil, err
	}

	var proxies []*taskbus.Proxy
	for _, o := range b.manager.AvailableObservers() {
		ps, err := o.Client().PhaseTaskProxies(ctx, phase)
		if err != nil {
			if b.optionalFailure(o, fmt.Sprintf("collect %s tasks", phase), err) {
				continue
			}
			return nil, fmt.Errorf("could not collect %s tasks of %s: %w", phase, o.Service(), err)
		}
		proxies = append(proxies, ps...)
	}
	return proxies, nil
}

// Stop stops the modules.
func (b *Boss) Stop(ctx context.Context) {
	b.manager.StopModules(ctx)
}

// optionalFailure logs the failure of an optional module, returns false for
// the mandatory ones.
func (b *Boss) optionalFailure(o *ModuleObserver, op string, err error) bool {
	if !o.Module().Optional {
		return false
	}
	b.logger.Warningf("Optional module %s could not %s: %s", o.Service(), op, err)
	return true
}

// journalObserver records a phase run once it starts and the outcome of its
// subtasks.
type journalObserver struct {
	journal journal.Journal
	phase   model.Phase
	steps   []model.Step
	logger  log.Logger

	run *model.Run
}

func (j *journalObserver) RunStarted(ctx context.Context, _ []taskbus.RemoteTask) {
	run, err := j.journal.BeginRun(ctx, j.phase, j.phase.TaskName(), j.steps)
	if err != nil {
		j.logger.Warningf("Could not journal the %s run: %s", j.phase, err)
		return
	}
	j.run = run
}

func (j *journalObserver) SubtaskStarted(index int, t taskbus.RemoteTask) {}

func (j *journalObserver) SubtaskFinished(index int, t taskbus.RemoteTask, taskErr error) {
	if j.run == nil || index >= len(j.run.Steps) {
		return
	}

	ctx := context.Background()
	id := j.run.Steps[index].ID
	var err error
	if taskErr != nil {
		err = j.journal.FailStep(ctx, id, taskErr)
	} else {
		err = j.journal.CompleteStep(ctx, id)
	}
	if err != nil {
		j.logger.Warningf("Could not journal step %q: %s", t.Name(), err)
	}
}
