package boss

import (
	"context"
	"fmt"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module"
	"github.com/slok/taskvisor/internal/taskbus"
)

// ClientConfig is the configuration of the boss client.
type ClientConfig struct {
	Conn   bus.Conn
	Logger log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "boss.Client"})
	return nil
}

// Client is the client of the boss on the bus.
type Client struct {
	conn   bus.Conn
	logger log.Logger
}

// NewClient returns a new boss client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{conn: cfg.Conn, logger: cfg.Logger}, nil
}

// GetModules returns the service names of the available modules.
func (c *Client) GetModules(ctx context.Context) ([]string, error) {
	var mods []string
	if err := c.call(ctx, MethodGetModules, nil, &mods); err != nil {
		return nil, err
	}
	return mods, nil
}

// StartModulesWithTask returns the task that starts the modules, its result
// are the service names of the available modules.
func (c *Client) StartModulesWithTask(ctx context.Context) (*taskbus.Proxy, error) {
	return c.taskCall(ctx, MethodStartModulesWithTask)
}

// PhaseWithTask returns the meta task of a phase.
func (c *Client) PhaseWithTask(ctx context.Context, phase model.Phase) (*taskbus.Proxy, error) {
	if err := phase.Validate(); err != nil {
		return nil, err
	}
	return c.taskCall(ctx, PhaseTaskMethod(phase))
}

// CollectPhaseTasks returns the tasks of the modules for a phase.
func (c *Client) CollectPhaseTasks(ctx context.Context, phase model.Phase) ([]model.TaskRef, error) {
	if err := phase.Validate(); err != nil {
		return nil, err
	}

	var vs []TaskRefValue
	if err := c.call(ctx, CollectTasksMethod(phase), nil, &vs); err != nil {
		return nil, err
	}
	refs := make([]model.TaskRef, 0, len(vs))
	for _, v := range vs {
		refs = append(refs, model.TaskRef{Service: v.Service, Path: string(v.Path)})
	}
	return refs, nil
}

func (c *Client) SetLocale(ctx context.Context, locale string) error {
	return c.call(ctx, MethodSetLocale, []any{locale})
}

func (c *Client) CollectRequirements(ctx context.Context) ([]model.Requirement, error) {
	var vs []module.RequirementValue
	if err := c.call(ctx, MethodCollectRequirements, nil, &vs); err != nil {
		return nil, err
	}
	reqs := make([]model.Requirement, 0, len(vs))
	for _, v := range vs {
		reqs = append(reqs, model.Requirement(v))
	}
	return reqs, nil
}

func (c *Client) ReadKickstartFile(ctx context.Context, path string) (model.KickstartReport, error) {
	var v KickstartReportValue
	if err := c.call(ctx, MethodReadKickstartFile, []any{path}, &v); err != nil {
		return model.KickstartReport{}, err
	}
	return fromReportValue(v), nil
}

func (c *Client) GenerateKickstart(ctx context.Context) (string, error) {
	var ks string
	if err := c.call(ctx, MethodGenerateKickstart, nil, &ks); err != nil {
		return "", err
	}
	return ks, nil
}

// Quit asks the boss to stop the modules and quit.
func (c *Client) Quit(ctx context.Context) error {
	return c.call(ctx, MethodQuit, nil)
}

func (c *Client) taskCall(ctx context.Context, method string) (*taskbus.Proxy, error) {
	var path bus.ObjectPath
	if err := c.call(ctx, method, nil, &path); err != nil {
		return nil, err
	}
	return taskbus.NewProxy(ctx, taskbus.ProxyConfig{
		Conn:    c.conn,
		Service: ServiceName,
		Path:    path,
		Logger:  c.logger,
	})
}

func (c *Client) call(ctx context.Context, method string, args []any, dst ...any) error {
	body, err := c.conn.Call(ctx, ServiceName, ObjectPath, Interface, method, args...)
	if err != nil {
		return fmt.Errorf("boss %s failed: %w", method, err)
	}
	if len(dst) == 0 {
		return nil
	}
	if err := body.Store(dst...); err != nil {
		return fmt.Errorf("invalid boss %s reply: %w", method, err)
	}
	return nil
}
