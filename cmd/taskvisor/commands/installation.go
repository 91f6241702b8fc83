package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/slok/taskvisor/internal/boss"
	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/bus/dbus"
	"github.com/slok/taskvisor/internal/bus/memory"
	"github.com/slok/taskvisor/internal/journal"
	"github.com/slok/taskvisor/internal/journal/sqlite"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	metricsprometheus "github.com/slok/taskvisor/internal/metrics/prometheus"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module/fake"
	"github.com/slok/taskvisor/internal/taskbus"
)

const (
	busMemory  = "memory"
	busSession = "session"
	busSystem  = "system"

	defaultStepDelay = 100 * time.Millisecond
)

// installationOptions are the options to assemble an installation.
type installationOptions struct {
	Bus     string
	Journal bool
}

// installation is a boss with its fleet. On the memory bus the fleet are the
// simulated modules, on D-Bus the modules are activated by the bus daemon.
type installation struct {
	cfg      model.BossConfig
	logger   log.Logger
	loop     *loop.Loop
	conn     bus.Conn
	broker   *memory.Broker
	launcher *fake.Launcher
	manager  *boss.ModuleManager
	boss     *boss.Boss
	service  *boss.Service
	registry *prometheus.Registry
	closers  []func()
}

func newInstallation(ctx context.Context, root *RootCommand, opts installationOptions) (inst *installation, err error) {
	cfg, err := root.BossConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.StepDelay == 0 {
		cfg.StepDelay = defaultStepDelay
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = root.JournalPath
	}

	logger := root.Logger
	i := &installation{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			i.close()
		}
	}()

	i.registry.MustRegister(collectors.NewGoCollector())
	rec, err := metricsprometheus.NewRecorder(i.registry)
	if err != nil {
		return nil, fmt.Errorf("could not create metrics recorder: %w", err)
	}

	i.loop, err = loop.New(loop.LoopConfig{Name: "boss", Logger: logger})
	if err != nil {
		return nil, err
	}

	switch opts.Bus {
	case busMemory:
		i.broker, err = memory.NewBroker(memory.BrokerConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create bus broker: %w", err)
		}
		i.launcher, err = fake.NewLauncher(fake.LauncherConfig{
			Broker:          i.broker,
			Modules:         fake.DefaultModules(cfg.StepDelay),
			MetricsRecorder: rec,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create module launcher: %w", err)
		}
		i.closers = append(i.closers, i.launcher.Stop)

		conn, err := i.broker.Connect(memory.ConnConfig{Dispatcher: i.loop, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not connect to the bus: %w", err)
		}
		i.conn = conn
	case busSession, busSystem:
		conn, err := dbus.Connect(dbus.ConnConfig{System: opts.Bus == busSystem, Dispatcher: i.loop, Logger: logger})
		if err != nil {
			return nil, err
		}
		i.conn = conn
	default:
		return nil, fmt.Errorf("unknown bus %q", opts.Bus)
	}
	i.closers = append(i.closers, func() { _ = i.conn.Close() })

	var j journal.Journal = journal.Noop
	if opts.Journal {
		sj, err := sqlite.NewJournal(ctx, sqlite.JournalConfig{DBPath: cfg.JournalPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not open journal: %w", err)
		}
		i.closers = append(i.closers, func() { _ = sj.Close() })
		j = sj
	}

	i.manager, err = boss.NewModuleManager(boss.ModuleManagerConfig{
		Conn:             i.conn,
		StartTimeout:     cfg.ModuleStartTimeout,
		TolerateOptional: cfg.TolerateOptionalModules,
		MetricsRecorder:  rec,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range cfg.Modules {
		if err := i.manager.AddModule(m); err != nil {
			return nil, err
		}
	}

	i.boss, err = boss.NewBoss(boss.BossConfig{Manager: i.manager, Journal: j, Logger: logger})
	if err != nil {
		return nil, err
	}
	i.closers = append(i.closers, i.boss.Close)

	i.service, err = boss.NewService(boss.ServiceConfig{
		Boss:            i.boss,
		Conn:            i.conn,
		Dispatcher:      i.loop,
		Quitter:         i.loop,
		QuitDelay:       cfg.QuitDelay,
		MetricsRecorder: rec,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return i, nil
}

// close releases the installation in reverse order.
func (i *installation) close() {
	for k := len(i.closers) - 1; k >= 0; k-- {
		i.closers[k]()
	}
	i.closers = nil
}

// runLoop runs the boss event loop in the background until the installation
// is closed.
func (i *installation) runLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = i.loop.Run(ctx)
	}()
	i.closers = append(i.closers, func() {
		cancel()
		<-done
	})
}

// client returns a boss client with its own bus connection.
func (i *installation) client() (*boss.Client, error) {
	if i.broker == nil {
		return nil, fmt.Errorf("in-process clients need the memory bus")
	}
	conn, err := i.broker.Connect(memory.ConnConfig{Logger: i.logger})
	if err != nil {
		return nil, fmt.Errorf("could not connect to the bus: %w", err)
	}
	i.closers = append(i.closers, func() { _ = conn.Close() })

	return boss.NewClient(boss.ClientConfig{Conn: conn, Logger: i.logger})
}

// runRemoteTask runs a remote task until it stops calling onProgress with every
// progress report. If the context is done the task is cancelled and waited.
func runRemoteTask(ctx context.Context, t *taskbus.Proxy, onProgress func(model.Progress)) error {
	var (
		once         sync.Once
		stopped      = make(chan struct{})
		mu           sync.Mutex
		disconnected bool
	)
	h, err := t.Subscribe(taskbus.Handlers{
		ProgressChanged: onProgress,
		Stopped:         func() { once.Do(func() { close(stopped) }) },
		Disconnected: func() {
			mu.Lock()
			disconnected = true
			mu.Unlock()
			once.Do(func() { close(stopped) })
		},
	})
	if err != nil {
		return fmt.Errorf("could not subscribe to task %q: %w", t.Name(), err)
	}
	defer h.Disconnect()

	callCtx := context.WithoutCancel(ctx)
	if err := t.Start(callCtx); err != nil {
		return err
	}

	done := ctx.Done()
	for waiting := true; waiting; {
		select {
		case <-stopped:
			waiting = false
		case <-done:
			if err := t.Cancel(callCtx); err != nil {
				return errors.Join(ctx.Err(), err)
			}
			done = nil
		}
	}

	mu.Lock()
	lost := disconnected
	mu.Unlock()
	if lost {
		return fmt.Errorf("the service of task %q left the bus", t.Name())
	}

	return t.Finish(callCtx)
}
