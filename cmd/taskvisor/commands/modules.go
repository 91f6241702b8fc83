package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type ModulesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format       string
	requirements bool
}

// NewModulesCommand returns the modules command.
func NewModulesCommand(rootCmd *RootCommand, app *kingpin.Application) *ModulesCommand {
	c := &ModulesCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("modules", "Start the simulated modules and print their availability.")
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)
	c.Cmd.Flag("requirements", "Print the requirements of the modules.").BoolVar(&c.requirements)

	return c
}

func (c ModulesCommand) Name() string { return c.Cmd.FullCommand() }

func (c ModulesCommand) Run(ctx context.Context) error {
	inst, err := newInstallation(ctx, c.rootCmd, installationOptions{Bus: busMemory})
	if err != nil {
		return fmt.Errorf("could not create installation: %w", err)
	}
	defer inst.close()
	inst.runLoop()

	// Missing modules are reported as unavailable.
	if _, err := inst.manager.StartModules(ctx); err != nil {
		c.rootCmd.Logger.Warningf("Not all the modules started: %s", err)
	}
	defer inst.boss.Stop(context.WithoutCancel(ctx))

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if c.requirements {
		reqs, err := inst.boss.CollectRequirements(ctx)
		if err != nil {
			return fmt.Errorf("could not collect requirements: %w", err)
		}
		return p.PrintRequirements(reqs)
	}

	return p.PrintModules(inst.manager.Statuses())
}
