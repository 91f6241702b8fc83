package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/taskvisor/internal/config"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module/fake"
	"github.com/slok/taskvisor/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	ConfigPath  string
	JournalPath string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("config", "Path to the boss YAML configuration, by default the simulated fleet is used.").Envar("TASKVISOR_CONFIG").StringVar(&c.ConfigPath)

	defaultJournalPath := filepath.Join(homedir.HomeDir(), ".taskvisor", "journal.db")
	app.Flag("journal-path", "Path to the SQLite journal of the phase runs.").Envar("TASKVISOR_JOURNAL_PATH").Default(defaultJournalPath).StringVar(&c.JournalPath)

	return c
}

// BossConfig returns the boss configuration of the installation.
func (c *RootCommand) BossConfig(ctx context.Context) (model.BossConfig, error) {
	if c.ConfigPath == "" {
		return defaultBossConfig(), nil
	}

	configPath := c.ConfigPath
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return model.BossConfig{}, fmt.Errorf("could not resolve config path: %w", err)
		}
		configPath = absPath
	}

	repo := config.NewBossYAMLRepository(os.DirFS("/"))
	cfg, err := repo.GetConfig(ctx, configPath[1:])
	if err != nil {
		return model.BossConfig{}, fmt.Errorf("could not load config: %w", err)
	}
	return cfg, nil
}

// defaultBossConfig expects all the simulated modules, the users module is optional.
func defaultBossConfig() model.BossConfig {
	cfg := model.BossConfig{TolerateOptionalModules: true}
	for _, m := range fake.DefaultModules(0) {
		cfg.Modules = append(cfg.Modules, model.Module{
			Service:  m.Service,
			Optional: m.Service == fake.ServicePrefix+"Users",
		})
	}
	return config.WithDefaults(cfg)
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}
