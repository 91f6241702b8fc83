package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/taskvisor/internal/diag"
)

type BossCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	bus         string
	diagAddress string
	startup     bool
}

// NewBossCommand returns the boss command.
func NewBossCommand(rootCmd *RootCommand, app *kingpin.Application) *BossCommand {
	c := &BossCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("boss", "Run the boss service until it's asked to quit.")
	c.Cmd.Flag("bus", "Bus to publish the boss on (memory, session, system).").Default(busSession).EnumVar(&c.bus, busMemory, busSession, busSystem)
	c.Cmd.Flag("diag-address", "Address of the diagnostics HTTP server, disabled if empty.").Envar("TASKVISOR_DIAG_ADDRESS").StringVar(&c.diagAddress)
	c.Cmd.Flag("start-modules", "Start the modules when the boss starts.").BoolVar(&c.startup)

	return c
}

func (c BossCommand) Name() string { return c.Cmd.FullCommand() }

func (c BossCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	inst, err := newInstallation(ctx, c.rootCmd, installationOptions{Bus: c.bus, Journal: true})
	if err != nil {
		return fmt.Errorf("could not create installation: %w", err)
	}
	defer inst.close()

	var g run.Group

	// Boss event loop.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := inst.service.Publish(); err != nil {
					return err
				}
				if c.startup {
					go func() {
						if _, err := inst.manager.StartModules(ctx); err != nil {
							logger.Errorf("Could not start the modules: %s", err)
						}
					}()
				}

				// The loop ends after a Quit request has been served.
				return inst.loop.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Stop the modules when the boss ends without a Quit request.
	{
		stop := make(chan struct{})
		g.Add(
			func() error {
				<-stop
				return nil
			},
			func(_ error) {
				close(stop)
				qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				inst.service.Quit(qctx)
			},
		)
	}

	// Diagnostics server.
	if c.diagAddress != "" {
		h, err := diag.NewRouter(diag.RouterConfig{Gatherer: inst.registry, Status: inst.manager, Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create diagnostics router: %w", err)
		}
		server := &http.Server{Addr: c.diagAddress, Handler: h, ReadHeaderTimeout: 5 * time.Second}

		g.Add(
			func() error {
				logger.Infof("Diagnostics listening on %s", c.diagAddress)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("diagnostics server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(sctx)
			},
		)
	}

	return g.Run()
}
