// Package dbus implements the bus connection on top of a D-Bus daemon.
package dbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	godbus "github.com/godbus/dbus/v5"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
	"github.com/slok/taskvisor/internal/signal"
)

const signalBuffer = 256

// ConnConfig is the configuration of a D-Bus connection.
type ConnConfig struct {
	// Address is the address of the bus, by default the session bus is used.
	Address string
	// System uses the system bus instead of the session bus.
	System bool
	// Dispatcher is where the received signals are delivered. If missing the
	// connection runs its own event loop until it's closed.
	Dispatcher loop.Dispatcher
	Logger     log.Logger
}

func (c *ConnConfig) defaults() error {
	if c.Address != "" && c.System {
		return fmt.Errorf("address and system bus can't be used at the same time")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "bus.DBusConn"})
	return nil
}

// Conn is a connection to a D-Bus daemon.
type Conn struct {
	conn       *godbus.Conn
	dispatcher loop.Dispatcher
	stopLoop   func()
	logger     log.Logger

	signals chan *godbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	objects   map[bus.ObjectPath]map[string]bus.Interface
	nextSubID int
	subs      map[int]*subscription
}

type subscription struct {
	match bus.Match
	rule  []godbus.MatchOption
	fn    func(bus.Signal)
}

var _ bus.Conn = &Conn{}

// Connect connects to a D-Bus daemon.
func Connect(cfg ConnConfig) (*Conn, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		conn *godbus.Conn
		err  error
	)
	switch {
	case cfg.Address != "":
		conn, err = godbus.Connect(cfg.Address)
	case cfg.System:
		conn, err = godbus.ConnectSystemBus()
	default:
		conn, err = godbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to the bus: %w", err)
	}

	c := &Conn{
		conn:       conn,
		dispatcher: cfg.Dispatcher,
		stopLoop:   func() {},
		signals:    make(chan *godbus.Signal, signalBuffer),
		done:       make(chan struct{}),
		objects:    map[bus.ObjectPath]map[string]bus.Interface{},
		subs:       map[int]*subscription{},
	}
	c.logger = cfg.Logger.WithValues(log.Kv{"conn": c.UniqueName()})

	if c.dispatcher == nil {
		l, err := loop.New(loop.LoopConfig{Name: c.UniqueName(), Logger: cfg.Logger})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("could not create connection loop: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		loopDone := make(chan struct{})
		go func() {
			defer close(loopDone)
			_ = l.Run(ctx)
		}()
		c.dispatcher = l
		c.stopLoop = func() {
			l.Quit()
			cancel()
			<-loopDone
		}
	}

	conn.Signal(c.signals)
	c.wg.Add(1)
	go c.receive()

	c.logger.Debugf("Connected to the bus")

	return c, nil
}

func (c *Conn) UniqueName() string {
	names := c.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (c *Conn) RequestName(name string) error {
	reply, err := c.conn.RequestName(name, godbus.NameFlagDoNotQueue)
	if err != nil {
		return toBusError(err)
	}
	switch reply {
	case godbus.RequestNameReplyPrimaryOwner, godbus.RequestNameReplyAlreadyOwner:
		return nil
	}
	return &bus.Error{Name: bus.ErrNameFailed, Message: fmt.Sprintf("name %q is already owned", name)}
}

func (c *Conn) ReleaseName(name string) error {
	reply, err := c.conn.ReleaseName(name)
	if err != nil {
		return toBusError(err)
	}
	if reply != godbus.ReleaseNameReplyReleased {
		return &bus.Error{Name: bus.ErrNameNameHasNoOwner, Message: fmt.Sprintf("name %q is not owned", name)}
	}
	return nil
}

func (c *Conn) NameHasOwner(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := c.conn.BusObject().CallWithContext(ctx, bus.BusInterface+".NameHasOwner", 0, name).Store(&ok)
	if err != nil {
		return false, toBusError(err)
	}
	return ok, nil
}

func (c *Conn) StartService(ctx context.Context, name string) error {
	var reply uint32
	err := c.conn.BusObject().CallWithContext(ctx, bus.BusInterface+".StartServiceByName", 0, name, uint32(0)).Store(&reply)
	if err != nil {
		return toBusError(err)
	}
	return nil
}

func (c *Conn) WatchName(name string, fn func(owned bool)) (signal.Handle, error) {
	m := bus.Match{
		Sender:    bus.BusName,
		Path:      bus.BusPath,
		Interface: bus.BusInterface,
		Member:    bus.NameOwnerChangedMember,
	}
	return c.subscribe(m, []godbus.MatchOption{godbus.WithMatchArg(0, name)}, func(s bus.Signal) {
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
	if ok {
		if _, ok := ifaces[iface.Name]; ok {
			return fmt.Errorf("interface %s already exported on %s", iface.Name, path)
		}
	}

	methods := make(map[string]any, len(iface.Methods))
	for name, fn := range iface.Methods {
		methods[name] = wrapMethod(fn)
	}
	if err := c.conn.ExportMethodTable(methods, godbus.ObjectPath(path), iface.Name); err != nil {
		return fmt.Errorf("could not export %s on %s: %w", iface.Name, path, err)
	}

	if !ok {
		if err := c.conn.ExportMethodTable(c.propertiesTable(path), godbus.ObjectPath(path), bus.PropertiesInterface); err != nil {
			_ = c.conn.Export(nil, godbus.ObjectPath(path), iface.Name)
			return fmt.Errorf("could not export the properties on %s: %w", path, err)
		}
		ifaces = map[string]bus.Interface{}
		c.objects[path] = ifaces
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
	if err := c.conn.Export(nil, godbus.ObjectPath(path), iface); err != nil {
		return fmt.Errorf("could not unexport %s on %s: %w", iface, path, err)
	}
	delete(ifaces, iface)
	if len(ifaces) == 0 {
		delete(c.objects, path)
		_ = c.conn.Export(nil, godbus.ObjectPath(path), bus.PropertiesInterface)
	}

	return nil
}

func (c *Conn) Emit(path bus.ObjectPath, iface, member string, args ...any) error {
	wire := make([]any, 0, len(args))
	for _, a := range args {
		wire = append(wire, toWire(a))
	}
	if err := c.conn.Emit(godbus.ObjectPath(path), iface+"."+member, wire...); err != nil {
		return toBusError(err)
	}
	return nil
}

func (c *Conn) EmitPropertiesChanged(path bus.ObjectPath, iface string, changed map[string]any) error {
	return c.Emit(path, bus.PropertiesInterface, bus.PropertiesChangedMember, iface, changed, []string{})
}

func (c *Conn) Call(ctx context.Context, dest string, path bus.ObjectPath, iface, method string, args ...any) (bus.Body, error) {
	wire := make([]any, 0, len(args))
	for _, a := range args {
		wire = append(wire, toWire(a))
	}

	call := c.conn.Object(dest, godbus.ObjectPath(path)).CallWithContext(ctx, iface+"."+method, 0, wire...)
	if call.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, toBusError(call.Err)
	}

	return newBody(call.Body), nil
}

func (c *Conn) GetProperty(ctx context.Context, dest string, path bus.ObjectPath, iface, name string) (bus.Body, error) {
	return c.Call(ctx, dest, path, bus.PropertiesInterface, "Get", iface, name)
}

func (c *Conn) Subscribe(m bus.Match, fn func(bus.Signal)) (signal.Handle, error) {
	return c.subscribe(m, nil, fn)
}

func (c *Conn) subscribe(m bus.Match, extra []godbus.MatchOption, fn func(bus.Signal)) (signal.Handle, error) {
	rule := []godbus.MatchOption{}
	if m.Sender != "" {
		rule = append(rule, godbus.WithMatchSender(m.Sender))
	}
	if m.Path != "" {
		rule = append(rule, godbus.WithMatchObjectPath(godbus.ObjectPath(m.Path)))
	}
	if m.Interface != "" {
		rule = append(rule, godbus.WithMatchInterface(m.Interface))
	}
	if m.Member != "" {
		rule = append(rule, godbus.WithMatchMember(m.Member))
	}
	rule = append(rule, extra...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, bus.ErrClosed
	}
	if err := c.conn.AddMatchSignal(rule...); err != nil {
		return nil, toBusError(err)
	}

	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = &subscription{match: m, rule: rule, fn: fn}

	var once sync.Once
	return signal.HandleFunc(func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			if !c.closed {
				_ = c.conn.RemoveMatchSignal(rule...)
			}
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
	c.subs = map[int]*subscription{}
	c.mu.Unlock()

	c.conn.RemoveSignal(c.signals)
	close(c.done)
	c.wg.Wait()
	err := c.conn.Close()
	c.stopLoop()
	c.logger.Debugf("Connection closed")

	if err != nil {
		return fmt.Errorf("could not close the connection: %w", err)
	}
	return nil
}

func (c *Conn) receive() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case s, ok := <-c.signals:
			if !ok {
				return
			}
			c.deliver(s)
		}
	}
}

// deliver dispatches a received signal to the matching subscriptions. The
// daemon already filters the well-known sender names so only unique names
// are checked locally.
func (c *Conn) deliver(s *godbus.Signal) {
	i := strings.LastIndex(s.Name, ".")
	if i < 0 {
		return
	}
	sig := bus.Signal{
		Sender:    s.Sender,
		Path:      bus.ObjectPath(s.Path),
		Interface: s.Name[:i],
		Member:    s.Name[i+1:],
		Body:      newBody(s.Body),
	}

	c.mu.Lock()
	var fns []func(bus.Signal)
	for id := 1; id <= c.nextSubID; id++ {
		sub, ok := c.subs[id]
		if !ok {
			continue
		}
		m := sub.match
		if m.Sender != "" && !strings.HasPrefix(m.Sender, ":") && m.Sender != bus.BusName {
			m.Sender = ""
		}
		if m.Matches(sig) {
			fns = append(fns, sub.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		c.dispatcher.Post(func() { fn(sig) })
	}
}

func (c *Conn) propertiesTable(path bus.ObjectPath) map[string]any {
	lookup := func(iface string) (bus.Interface, *godbus.Error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		ifc, ok := c.objects[path][iface]
		if !ok {
			return bus.Interface{}, godbus.NewError(bus.ErrNameUnknownIface, []any{fmt.Sprintf("no interface %s at %s", iface, path)})
		}
		return ifc, nil
	}

	return map[string]any{
		"Get": func(iface, name string) (godbus.Variant, *godbus.Error) {
			ifc, err := lookup(iface)
			if err != nil {
				return godbus.Variant{}, err
			}
			getter, ok := ifc.Properties[name]
			if !ok {
				return godbus.Variant{}, godbus.NewError(bus.ErrNameUnknownProperty, []any{fmt.Sprintf("no property %s.%s", iface, name)})
			}
			return makeVariant(getter()), nil
		},
		"GetAll": func(iface string) (map[string]godbus.Variant, *godbus.Error) {
			ifc, err := lookup(iface)
			if err != nil {
				return nil, err
			}
			all := make(map[string]godbus.Variant, len(ifc.Properties))
			for name, getter := range ifc.Properties {
				all[name] = makeVariant(getter())
			}
			return all, nil
		},
		"Set": func(iface, name string, v godbus.Variant) *godbus.Error {
			return godbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []any{fmt.Sprintf("property %s.%s is read only", iface, name)})
		},
	}
}

// toBusError converts the errors of the godbus library into bus errors.
func toBusError(err error) error {
	if err == nil {
		return nil
	}

	var dbusErr godbus.Error
	if errors.As(err, &dbusErr) {
		return &bus.Error{Name: dbusErr.Name, Message: errorMessage(dbusErr)}
	}
	var dbusErrPtr *godbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil {
		return &bus.Error{Name: dbusErrPtr.Name, Message: errorMessage(*dbusErrPtr)}
	}

	return &bus.Error{Name: bus.ErrNameFailed, Message: err.Error()}
}

func errorMessage(e godbus.Error) string {
	if len(e.Body) > 0 {
		if msg, ok := e.Body[0].(string); ok {
			return msg
		}
	}
	return ""
}

// fromBusError converts any error into a godbus error keeping its name.
func fromBusError(err error) *godbus.Error {
	be := bus.ToError(err)
	return godbus.NewError(be.Name, []any{be.Message})
}
