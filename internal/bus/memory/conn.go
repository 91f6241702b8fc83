package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/signal"
)

// ConnConfig is the configuration of a broker connection.
type ConnConfig struct {
	// Dispatcher is where the received signals are delivered. If missing the
	// connection runs its own event loop until it's closed.
	Dispatcher loop.Dispatcher
	Logger     log.Logger
}

func (c *ConnConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "bus.MemoryConn"})
	return nil
}

// Conn is a connection to an in-process broker.
type Conn struct {
	broker     *Broker
	id         int
	unique     string
	dispatcher loop.Dispatcher
	stopLoop   func()
	logger     log.Logger

	mu        sync.Mutex
	closed    bool
	objects   map[bus.ObjectPath]map[string]bus.Interface
	nextSubID int
	subs      map[int]*subscription
}

type subscription struct {
	match bus.Match
	fn    func(bus.Signal)
}

var _ bus.Conn = &Conn{}

// Connect returns a new connection to the broker.
func (b *Broker) Connect(cfg ConnConfig) (*Conn, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Conn{
		broker:     b,
		dispatcher: cfg.Dispatcher,
		stopLoop:   func() {},
		objects:    map[bus.ObjectPath]map[string]bus.Interface{},
		subs:       map[int]*subscription{},
	}
	b.register(c)
	c.logger = cfg.Logger.WithValues(log.Kv{"conn": c.unique})

	if c.dispatcher == nil {
		l, err := loop.New(loop.LoopConfig{Name: c.unique, Logger: cfg.Logger})
		if err != nil {
			b.unregister(c)
			return nil, fmt.Errorf("could not create connection loop: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = l.Run(ctx)
		}()
		c.dispatcher = l
		c.stopLoop = func() {
			l.Quit()
			cancel()
			<-done
		}
	}

	return c, nil
}

func (c *Conn) UniqueName() string { return c.unique }

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) RequestName(name string) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	return c.broker.requestName(c, name)
}

func (c *Conn) ReleaseName(name string) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	return c.broker.releaseName(c, name)
}

func (c *Conn) NameHasOwner(ctx context.Context, name string) (bool, error) {
	if c.isClosed() {
		return false, bus.ErrClosed
	}
	_, ok := c.broker.resolve(name)
	return ok, nil
}

func (c *Conn) StartService(ctx context.Context, name string) error {
	if c.isClosed() {
		return bus.ErrClosed
	}
	return c.broker.startService(ctx, name)
}

func (c *Conn) WatchName(name string, fn func(owned bool)) (signal.Handle, error) {
	return c.Subscribe(bus.Match{
		Sender:    bus.BusName,
		Path:      bus.BusPath,
		Interface: bus.BusInterface,
		Member:    bus.NameOwnerChangedMember,
	}, func(s bus.Signal) {
		var changedName, oldOwner, newOwner string
		if err := s.Body.Store(&changedName, &oldOwner, &newOwner); err != nil || changedName != name {
			return
		}
		fn(newOwner != "")
	})
}

func (c *Conn) Export(path bus.ObjectPath, iface bus.Interface) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if err := bus.ValidateInterface(iface); err != nil {
		return fmt.Errorf("invalid interface: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return bus.ErrClosed
	}
	ifaces, ok := c.objects[path]
	if !ok {
		ifaces = map[string]bus.Interface{}
		c.objects[path] = ifaces
	}
	if _, ok := ifaces[iface.Name]; ok {
		return fmt.Errorf("interface %s already exported on %s", iface.Name, path)
	}
	ifaces[iface.Name] = iface

	return nil
}

func (c *Conn) Unexport(path bus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ifaces, ok := c.objects[path]
	if !ok {
		return &bus.Error{Name: bus.ErrNameUnknownObject, Message: string(path)}
	}
	delete(ifaces, iface)
	if len(ifaces) == 0 {
		delete(c.objects, path)
	}

	return nil
}

func (c *Conn) Emit(path bus.ObjectPath, iface, member string, args ...any) error {
	if c.isClosed() {
		return bus.ErrClosed
	}

	c.broker.broadcast(bus.Signal{
		Sender:    c.unique,
		Path:      path,
		Interface: iface,
		Member:    member,
		Body:      bus.ValuesBody(args),
	}, c.broker.namesOf(c))

	return nil
}

func (c *Conn) EmitPropertiesChanged(path bus.ObjectPath, iface string, changed map[string]any) error {
	return c.Emit(path, bus.PropertiesInterface, bus.PropertiesChangedMember, iface, changed, []string{})
}

func (c *Conn) Call(ctx context.Context, dest string, path bus.ObjectPath, iface, method string, args ...any) (bus.Body, error) {
	if c.isClosed() {
		return nil, bus.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, ok := c.broker.resolve(dest)
	if !ok {
		return nil, &bus.Error{Name: bus.ErrNameServiceUnknown, Message: fmt.Sprintf("the name %s was not provided by any service", dest)}
	}

	return target.handleCall(path, iface, method, args)
}

func (c *Conn) GetProperty(ctx context.Context, dest string, path bus.ObjectPath, iface, name string) (bus.Body, error) {
	body, err := c.Call(ctx, dest, path, bus.PropertiesInterface, "Get", iface, name)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Conn) Subscribe(m bus.Match, fn func(bus.Signal)) (signal.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, bus.ErrClosed
	}

	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = &subscription{match: m, fn: fn}

	var once sync.Once
	return signal.HandleFunc(func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.objects = map[bus.ObjectPath]map[string]bus.Interface{}
	c.mu.Unlock()

	c.broker.unregister(c)

	c.mu.Lock()
	c.subs = map[int]*subscription{}
	c.mu.Unlock()

	c.stopLoop()
	c.logger.Debugf("Connection closed")

	return nil
}

// deliver dispatches the signal to the matching subscriptions of the connection.
func (c *Conn) deliver(s bus.Signal, senderNames []string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(c.subs))
	for id, sub := range c.subs {
		if sub.match.Matches(s, senderNames...) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		c.dispatcher.Post(func() {
			c.mu.Lock()
			sub, ok := c.subs[id]
			c.mu.Unlock()
			if !ok {
				return
			}
			sub.fn(s)
		})
	}
}

func (c *Conn) handleCall(path bus.ObjectPath, iface, method string, args []any) (bus.Body, error) {
	if iface == bus.PropertiesInterface {
		return c.handlePropertiesCall(path, method, args)
	}

	c.mu.Lock()
	ifaces, ok := c.objects[path]
	var (
		ifc   bus.Interface
		found bool
	)
	if ok {
		ifc, found = ifaces[iface]
	}
	c.mu.Unlock()

	if !ok {
		return nil, &bus.Error{Name: bus.ErrNameUnknownObject, Message: fmt.Sprintf("no object at %s", path)}
	}
	if !found {
		return nil, &bus.Error{Name: bus.ErrNameUnknownIface, Message: fmt.Sprintf("no interface %s at %s", iface, path)}
	}
	fn, ok := ifc.Methods[method]
	if !ok {
		return nil, &bus.Error{Name: bus.ErrNameUnknownMethod, Message: fmt.Sprintf("no method %s.%s at %s", iface, method, path)}
	}

	results, err := bus.CallMethod(fn, args)
	if err != nil {
		return nil, bus.ToError(err)
	}

	return bus.ValuesBody(results), nil
}

func (c *Conn) handlePropertiesCall(path bus.ObjectPath, method string, args []any) (bus.Body, error) {
	lookup := func(iface string) (bus.Interface, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		ifaces, ok := c.objects[path]
		if !ok {
			return bus.Interface{}, &bus.Error{Name: bus.ErrNameUnknownObject, Message: fmt.Sprintf("no object at %s", path)}
		}
		ifc, ok := ifaces[iface]
		if !ok {
			return bus.Interface{}, &bus.Error{Name: bus.ErrNameUnknownIface, Message: fmt.Sprintf("no interface %s at %s", iface, path)}
		}
		return ifc, nil
	}

	switch method {
	case "Get":
		var iface, name string
		if err := bus.StoreValues(args, &iface, &name); err != nil {
			return nil, &bus.Error{Name: bus.ErrNameInvalidArgs, Message: err.Error()}
		}
		ifc, err := lookup(iface)
		if err != nil {
			return nil, err
		}
		getter, ok := ifc.Properties[name]
		if !ok {
			return nil, &bus.Error{Name: bus.ErrNameUnknownProperty, Message: fmt.Sprintf("no property %s.%s", iface, name)}
		}
		return bus.ValuesBody{getter()}, nil

	case "GetAll":
		var iface string
		if err := bus.StoreValues(args, &iface); err != nil {
			return nil, &bus.Error{Name: bus.ErrNameInvalidArgs, Message: err.Error()}
		}
		ifc, err := lookup(iface)
		if err != nil {
			return nil, err
		}
		all := make(map[string]any, len(ifc.Properties))
		for name, getter := range ifc.Properties {
			all[name] = getter()
		}
		return bus.ValuesBody{all}, nil
	}

	return nil, &bus.Error{Name: bus.ErrNameUnknownMethod, Message: fmt.Sprintf("no method %s.%s", bus.PropertiesInterface, method)}
}
