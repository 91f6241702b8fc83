// Package memory implements an in-process bus broker. Every connection of the
// broker behaves like a process connected to a message bus: it owns names,
// exports objects, calls methods and receives signals through its own
// dispatcher so the signal delivery order of each emitter is preserved.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/log"
)

// Activator starts the service of a name, it must return once the service
// has been launched.
type Activator func(ctx context.Context) error

// BrokerConfig is the configuration of the broker.
type BrokerConfig struct {
	Logger log.Logger
}

func (c *BrokerConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "bus.MemoryBroker"})
	return nil
}

// Broker is an in-process message bus.
type Broker struct {
	mu         sync.Mutex
	nextID     int
	conns      map[string]*Conn
	owners     map[string]*Conn
	activators map[string]Activator
	logger     log.Logger
}

// NewBroker returns a new in-process broker.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Broker{
		conns:      map[string]*Conn{},
		owners:     map[string]*Conn{},
		activators: map[string]Activator{},
		logger:     cfg.Logger,
	}, nil
}

// RegisterActivator registers the activator used to start a service name.
func (b *Broker) RegisterActivator(name string, a Activator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activators[name] = a
}

// Names returns the well-known names with an owner.
func (b *Broker) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.owners))
	for n := range b.owners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) register(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	c.id = b.nextID
	c.unique = fmt.Sprintf(":1.%d", b.nextID)
	b.conns[c.unique] = c
}

// resolve returns the connection that owns a name (unique or well-known).
func (b *Broker) resolve(name string) (*Conn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.conns[name]; ok {
		return c, true
	}
	c, ok := b.owners[name]
	return c, ok
}

func (b *Broker) requestName(c *Conn, name string) error {
	if name == "" {
		return &bus.Error{Name: bus.ErrNameInvalidArgs, Message: "name is required"}
	}

	b.mu.Lock()
	owner, ok := b.owners[name]
	if ok {
		b.mu.Unlock()
		if owner == c {
			return nil
		}
		return &bus.Error{Name: bus.ErrNameFailed, Message: fmt.Sprintf("name %q is already owned by %s", name, owner.unique)}
	}
	b.owners[name] = c
	b.mu.Unlock()

	b.logger.Debugf("Name %s acquired by %s", name, c.unique)
	b.emitNameOwnerChanged(name, "", c.unique)

	return nil
}

func (b *Broker) releaseName(c *Conn, name string) error {
	b.mu.Lock()
	owner, ok := b.owners[name]
	if !ok || owner != c {
		b.mu.Unlock()
		return &bus.Error{Name: bus.ErrNameNameHasNoOwner, Message: fmt.Sprintf("name %q is not owned by %s", name, c.unique)}
	}
	delete(b.owners, name)
	b.mu.Unlock()

	b.logger.Debugf("Name %s released by %s", name, c.unique)
	b.emitNameOwnerChanged(name, c.unique, "")

	return nil
}

// namesOf returns the well-known names owned by a connection.
func (b *Broker) namesOf(c *Conn) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := []string{}
	for n, owner := range b.owners {
		if owner == c {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Broker) unregister(c *Conn) {
	for _, n := range b.namesOf(c) {
		_ = b.releaseName(c, n)
	}

	b.mu.Lock()
	delete(b.conns, c.unique)
	b.mu.Unlock()
}

func (b *Broker) startService(ctx context.Context, name string) error {
	if _, ok := b.resolve(name); ok {
		return nil
	}

	b.mu.Lock()
	a, ok := b.activators[name]
	b.mu.Unlock()
	if !ok {
		return &bus.Error{Name: bus.ErrNameServiceUnknown, Message: fmt.Sprintf("the name %s was not provided by any service", name)}
	}

	b.logger.Debugf("Activating service %s", name)
	if err := a(ctx); err != nil {
		return &bus.Error{Name: bus.ErrNameFailed, Message: fmt.Sprintf("could not activate %s: %s", name, err)}
	}

	return nil
}

func (b *Broker) emitNameOwnerChanged(name, oldOwner, newOwner string) {
	b.broadcast(bus.Signal{
		Sender:    bus.BusName,
		Path:      bus.BusPath,
		Interface: bus.BusInterface,
		Member:    bus.NameOwnerChangedMember,
		Body:      bus.ValuesBody{name, oldOwner, newOwner},
	}, nil)
}

// broadcast delivers a signal to every matching subscription.
func (b *Broker) broadcast(s bus.Signal, senderNames []string) {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	for _, c := range conns {
		c.deliver(s, senderNames)
	}
}
