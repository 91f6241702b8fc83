package bus

import (
	"errors"
	"fmt"
)

// Error names of the bus.
const (
	ErrNameFailed          = "org.freedesktop.DBus.Error.Failed"
	ErrNameServiceUnknown  = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrNameNameHasNoOwner  = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrNameUnknownObject   = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownIface    = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownMethod   = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownProperty = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrNameInvalidArgs     = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameDisconnected    = "org.freedesktop.DBus.Error.Disconnected"
)

// ErrClosed is returned when using a closed connection.
var ErrClosed = &Error{Name: ErrNameDisconnected, Message: "connection closed"}

// Error is an error received from the bus. Clients must dispatch on the
// name, never on the message.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ErrorName returns the name of the error.
func (e *Error) ErrorName() string { return e.Name }

// NamedError is an error that knows its bus name.
type NamedError interface {
	error
	ErrorName() string
}

// ToError converts any error into a bus error, the name is taken from the
// error when it has one.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}

	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr
	}

	name := ErrNameFailed
	var named NamedError
	if errors.As(err, &named) {
		name = named.ErrorName()
	}

	return &Error{Name: name, Message: err.Error()}
}

// IsName returns true if err is a bus error with the name.
func IsName(err error, name string) bool {
	var busErr *Error
	return errors.As(err, &busErr) && busErr.Name == name
}
