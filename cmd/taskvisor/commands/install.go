package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/printer"
)

type InstallCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	kickstart string
	format    string
}

// NewInstallCommand returns the install command.
func NewInstallCommand(rootCmd *RootCommand, app *kingpin.Application) *InstallCommand {
	c := &InstallCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("install", "Run a simulated installation in-process.")
	c.Cmd.Flag("kickstart", "Kickstart file handed to the modules before the installation.").Short('k').StringVar(&c.kickstart)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c InstallCommand) Name() string { return c.Cmd.FullCommand() }

func (c InstallCommand) Run(ctx context.Context) error {
	inst, err := newInstallation(ctx, c.rootCmd, installationOptions{Bus: busMemory, Journal: true})
	if err != nil {
		return fmt.Errorf("could not create installation: %w", err)
	}
	defer inst.close()

	if err := inst.service.Publish(); err != nil {
		return err
	}

	var g run.Group

	// Boss event loop.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return inst.loop.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Installation.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := c.install(ctx, inst, newPrinter(c.format, c.rootCmd.Stdout)); err != nil {
					return err
				}

				// Wait until the boss has served the Quit request.
				select {
				case <-inst.loop.Done():
				case <-ctx.Done():
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func (c InstallCommand) install(ctx context.Context, inst *installation, p printer.Printer) error {
	logger := c.rootCmd.Logger

	client, err := inst.client()
	if err != nil {
		return err
	}

	start, err := client.StartModulesWithTask(ctx)
	if err != nil {
		return fmt.Errorf("could not start the modules: %w", err)
	}
	if err := runRemoteTask(ctx, start, func(model.Progress) {}); err != nil {
		return fmt.Errorf("could not start the modules: %w", err)
	}
	var services []string
	if err := start.Result(ctx, &services); err != nil {
		return err
	}
	logger.Infof("%d modules available", len(services))

	if err := client.SetLocale(ctx, inst.cfg.Locale); err != nil {
		return fmt.Errorf("could not set the locale: %w", err)
	}

	if c.kickstart != "" {
		report, err := client.ReadKickstartFile(ctx, c.kickstart)
		if err != nil {
			return fmt.Errorf("could not read kickstart: %w", err)
		}
		if err := p.PrintKickstartReport(report); err != nil {
			return err
		}
		if !report.IsValid() {
			return fmt.Errorf("invalid kickstart with %d errors", len(report.Errors))
		}
	}

	reqs, err := client.CollectRequirements(ctx)
	if err != nil {
		return fmt.Errorf("could not collect requirements: %w", err)
	}
	if err := p.PrintRequirements(reqs); err != nil {
		return err
	}

	for _, phase := range model.Phases() {
		t, err := client.PhaseWithTask(ctx, phase)
		if err != nil {
			return fmt.Errorf("could not create %s task: %w", phase, err)
		}

		err = runRemoteTask(ctx, t, func(pr model.Progress) {
			if err := p.PrintProgress(t.Name(), t.Steps(), pr); err != nil {
				logger.Warningf("Could not print progress: %s", err)
			}
		})
		if err != nil {
			return fmt.Errorf("%s failed: %w", phase, err)
		}
	}

	if err := p.PrintMessage("Installation finished"); err != nil {
		return err
	}

	return client.Quit(ctx)
}
