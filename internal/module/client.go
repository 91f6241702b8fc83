package module

import (
	"context"
	"fmt"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/taskbus"
)

// ClientConfig is the configuration of a module client.
type ClientConfig struct {
	Conn    bus.Conn
	Service string
	Logger  log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("bus connection is required")
	}
	if c.Service == "" {
		return fmt.Errorf("service is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "module.Client", "module": c.Service})
	return nil
}

// Client calls the root object of a remote module.
type Client struct {
	conn    bus.Conn
	service string
	logger  log.Logger
}

// NewClient returns a new module client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		conn:    cfg.Conn,
		service: cfg.Service,
		logger:  cfg.Logger,
	}, nil
}

// Service returns the service name of the module.
func (c *Client) Service() string { return c.service }

// PhaseTasks returns the object paths of the tasks of the module for a phase.
func (c *Client) PhaseTasks(ctx context.Context, phase model.Phase) ([]bus.ObjectPath, error) {
	if err := phase.Validate(); err != nil {
		return nil, err
	}

	var paths []bus.ObjectPath
	if err := c.call(ctx, phase.ModuleMethod(), nil, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// PhaseTaskProxies returns the proxies of the tasks of the module for a phase.
func (c *Client) PhaseTaskProxies(ctx context.Context, phase model.Phase) ([]*taskbus.Proxy, error) {
	paths, err := c.PhaseTasks(ctx, phase)
	if err != nil {
		return nil, err
	}

	proxies := make([]*taskbus.Proxy, 0, len(paths))
	for _, p := range paths {
		proxy, err := taskbus.NewProxy(ctx, taskbus.ProxyConfig{
			Conn:    c.conn,
			Service: c.service,
			Path:    p,
			Logger:  c.logger,
		})
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, proxy)
	}

	return proxies, nil
}

func (c *Client) SetLocale(ctx context.Context, locale string) error {
	return c.call(ctx, MethodSetLocale, []any{locale})
}

func (c *Client) CollectRequirements(ctx context.Context) ([]model.Requirement, error) {
	var vs []RequirementValue
	if err := c.call(ctx, MethodCollectRequirements, nil, &vs); err != nil {
		return nil, err
	}
	return fromRequirementValues(vs), nil
}

func (c *Client) KickstartCommands(ctx context.Context) ([]string, error) {
	var cmds []string
	if err := c.call(ctx, MethodKickstartCommands, nil, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}

// ReadKickstart hands the module its kickstart section.
func (c *Client) ReadKickstart(ctx context.Context, section string) (model.KickstartReport, error) {
	var v KickstartReportValue
	if err := c.call(ctx, MethodReadKickstart, []any{section}, &v); err != nil {
		return model.KickstartReport{}, err
	}
	return fromReportValue(c.service, v), nil
}

func (c *Client) GenerateKickstart(ctx context.Context) (string, error) {
	var ks string
	if err := c.call(ctx, MethodGenerateKickstart, nil, &ks); err != nil {
		return "", err
	}
	return ks, nil
}

// Quit asks the module to leave the bus.
func (c *Client) Quit(ctx context.Context) error {
	return c.call(ctx, MethodQuit, nil)
}

func (c *Client) call(ctx context.Context, method string, args []any, dst ...any) error {
	body, err := c.conn.Call(ctx, c.service, RootPath(c.service), Interface, method, args...)
	if err != nil {
		return fmt.Errorf("%s.%s failed: %w", c.service, method, err)
	}
	if len(dst) == 0 {
		return nil
	}
	if err := body.Store(dst...); err != nil {
		return fmt.Errorf("invalid %s.%s reply: %w", c.service, method, err)
	}
	return nil
}
