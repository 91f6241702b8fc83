package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/taskvisor/internal/bus/dbus"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/module"
	"github.com/slok/taskvisor/internal/module/fake"
)

type ModuleCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	service   string
	bus       string
	stepDelay time.Duration
}

// NewModuleCommand returns the module command.
func NewModuleCommand(rootCmd *RootCommand, app *kingpin.Application) *ModuleCommand {
	c := &ModuleCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("module", "Run a simulated module on D-Bus, usually started by bus activation.")
	c.Cmd.Arg("service", "Service name of the module.").Required().StringVar(&c.service)
	c.Cmd.Flag("bus", "Bus to publish the module on (session, system).").Default(busSession).EnumVar(&c.bus, busSession, busSystem)
	c.Cmd.Flag("step-delay", "Duration of every simulated task step.").Default(defaultStepDelay.String()).DurationVar(&c.stepDelay)

	return c
}

func (c ModuleCommand) Name() string { return c.Cmd.FullCommand() }

func (c ModuleCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var mcfg *fake.ModuleConfig
	for _, m := range fake.DefaultModules(c.stepDelay) {
		if m.Service == c.service {
			mcfg = &m
			break
		}
	}
	if mcfg == nil {
		return fmt.Errorf("unknown module %q", c.service)
	}
	mcfg.Logger = logger

	m, err := fake.NewModule(*mcfg)
	if err != nil {
		return err
	}

	lp, err := loop.New(loop.LoopConfig{Name: c.service, Logger: logger})
	if err != nil {
		return err
	}
	conn, err := dbus.Connect(dbus.ConnConfig{System: c.bus == busSystem, Dispatcher: lp, Logger: logger})
	if err != nil {
		return err
	}
	defer conn.Close()

	svc, err := module.NewService(module.ServiceConfig{
		Name:       c.service,
		Handler:    m,
		Conn:       conn,
		Dispatcher: lp,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := svc.Publish(); err != nil {
					return err
				}
				return lp.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}
	{
		stop := make(chan struct{})
		g.Add(
			func() error {
				select {
				case <-svc.Done():
					logger.Infof("Module left the bus")
				case <-stop:
				}
				return nil
			},
			func(_ error) {
				close(stop)
			},
		)
	}

	return g.Run()
}
