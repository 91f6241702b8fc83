// Package bus is the inter-process message bus abstraction: well-known
// service names, objects exported under object paths with interfaces made of
// methods, properties and signals.
//
// The transport is pluggable, `memory` is an in-process broker and `dbus`
// uses a D-Bus daemon.
package bus

import (
	"context"

	"github.com/slok/taskvisor/internal/signal"
)

const (
	// PropertiesInterface is the standard interface used to read properties.
	PropertiesInterface = "org.freedesktop.DBus.Properties"
	// PropertiesChangedMember is the signal emitted when properties change.
	PropertiesChangedMember = "PropertiesChanged"

	// BusName is the name of the bus itself.
	BusName = "org.freedesktop.DBus"
	// BusPath is the object path of the bus itself.
	BusPath = ObjectPath("/org/freedesktop/DBus")
	// BusInterface is the interface of the bus itself.
	BusInterface = "org.freedesktop.DBus"
	// NameOwnerChangedMember is the signal emitted by the bus when a name changes of owner.
	NameOwnerChangedMember = "NameOwnerChanged"
)

// Interface is an interface exported by an object.
type Interface struct {
	Name string
	// Methods are Go functions whose last result is an error. The arguments
	// and the rest of results are the bus arguments and results.
	Methods map[string]any
	// Properties are read only properties.
	Properties map[string]func() any
	// Signals are the names of the signals emitted by the interface.
	Signals []string
}

// Body is the body of a reply or a signal.
type Body interface {
	// Values returns the raw values of the body.
	Values() []any
	// Store stores the values of the body in the pointers.
	Store(dst ...any) error
}

// Signal is a received signal.
type Signal struct {
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
	Body      Body
}

// Match selects signals by its fields, empty fields match everything.
type Match struct {
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
}

// Conn is a connection to the bus.
type Conn interface {
	// UniqueName returns the unique name of the connection on the bus.
	UniqueName() string
	// RequestName takes the ownership of a well-known name.
	RequestName(name string) error
	// ReleaseName releases the ownership of a well-known name.
	ReleaseName(name string) error
	// NameHasOwner returns true if a name is owned by a connection.
	NameHasOwner(ctx context.Context, name string) (bool, error)
	// StartService asks the bus to start the service that owns name.
	StartService(ctx context.Context, name string) error
	// WatchName calls fn every time the name gets or loses its owner.
	WatchName(name string, fn func(owned bool)) (signal.Handle, error)

	// Export exports an interface of an object.
	Export(path ObjectPath, iface Interface) error
	// Unexport removes an interface of an object.
	Unexport(path ObjectPath, iface string) error
	// Emit emits a signal of an exported object.
	Emit(path ObjectPath, iface, member string, args ...any) error
	// EmitPropertiesChanged notifies the change of properties of an exported object.
	EmitPropertiesChanged(path ObjectPath, iface string, changed map[string]any) error

	// Call calls a method of a remote object.
	Call(ctx context.Context, dest string, path ObjectPath, iface, method string, args ...any) (Body, error)
	// GetProperty returns the property value of a remote object.
	GetProperty(ctx context.Context, dest string, path ObjectPath, iface, name string) (Body, error)
	// Subscribe calls fn with every signal that matches.
	Subscribe(m Match, fn func(Signal)) (signal.Handle, error)

	// Close closes the connection, releasing all the names.
	Close() error
}

// Matches returns true if the signal matches, senderNames are the well-known
// names owned by the sender when the signal was emitted.
func (m Match) Matches(s Signal, senderNames ...string) bool {
	if m.Sender != "" {
		found := false
		for _, n := range senderNames {
			if n == m.Sender {
				found = true
				break
			}
		}
		if !found && s.Sender != m.Sender {
			return false
		}
	}
	if m.Path != "" && m.Path != s.Path {
		return false
	}
	if m.Interface != "" && m.Interface != s.Interface {
		return false
	}
	if m.Member != "" && m.Member != s.Member {
		return false
	}
	return true
}
