package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskvisor/internal/journal/sqlite"
)

type JournalCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewJournalCommand returns the journal command.
func NewJournalCommand(rootCmd *RootCommand, app *kingpin.Application) *JournalCommand {
	c := &JournalCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("journal", "List the recorded phase runs.")
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c JournalCommand) Name() string { return c.Cmd.FullCommand() }

func (c JournalCommand) Run(ctx context.Context) error {
	path := c.rootCmd.JournalPath
	if c.rootCmd.ConfigPath != "" {
		cfg, err := c.rootCmd.BossConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.JournalPath != "" {
			path = cfg.JournalPath
		}
	}

	j, err := sqlite.NewJournal(ctx, sqlite.JournalConfig{DBPath: path, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("could not open journal: %w", err)
	}
	defer j.Close()

	runs, err := j.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	return newPrinter(c.format, c.rootCmd.Stdout).PrintRuns(runs)
}
