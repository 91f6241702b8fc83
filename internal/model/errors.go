package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
)

// ErrorKind is the stable name of a task failure kind. Clients dispatch on
// the kind, never on the message.
type ErrorKind string

const (
	ErrorKindTask               ErrorKind = "TaskError"
	ErrorKindTaskAlreadyRunning ErrorKind = "TaskAlreadyRunning"
	ErrorKindAlreadyFinished    ErrorKind = "AlreadyFinished"
	ErrorKindNoResult           ErrorKind = "NoResult"
	ErrorKindTimeout            ErrorKind = "Timeout"
	ErrorKindSourceSetup        ErrorKind = "SourceSetupError"
	ErrorKindSourceTearDown     ErrorKind = "SourceTearDownError"
	ErrorKindModuleStartTimeout ErrorKind = "ModuleStartTimeout"
	ErrorKindInstall            ErrorKind = "InstallError"
)

var knownErrorKinds = map[ErrorKind]struct{}{
	ErrorKindTask:               {},
	ErrorKindTaskAlreadyRunning: {},
	ErrorKindAlreadyFinished:    {},
	ErrorKindNoResult:           {},
	ErrorKindTimeout:            {},
	ErrorKindSourceSetup:        {},
	ErrorKindSourceTearDown:     {},
	ErrorKindModuleStartTimeout: {},
	ErrorKindInstall:            {},
}

// Sentinels to be used with errors.Is. A sentinel matches any error of the same kind,
// ErrTask matches every task error.
var (
	ErrTask               = &Error{Kind: ErrorKindTask}
	ErrTaskAlreadyRunning = &Error{Kind: ErrorKindTaskAlreadyRunning}
	ErrAlreadyFinished    = &Error{Kind: ErrorKindAlreadyFinished}
	ErrNoResult           = &Error{Kind: ErrorKindNoResult}
	ErrTimeout            = &Error{Kind: ErrorKindTimeout}
	ErrSourceSetup        = &Error{Kind: ErrorKindSourceSetup}
	ErrSourceTearDown     = &Error{Kind: ErrorKindSourceTearDown}
	ErrModuleStartTimeout = &Error{Kind: ErrorKindModuleStartTimeout}
	ErrInstall            = &Error{Kind: ErrorKindInstall}
)

// Error is a task originated failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

// NewError returns a new task error of a kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// ErrorName returns the wire name of the error.
func (e *Error) ErrorName() string { return string(e.Kind) }

// Is implements the errors.Is matching of sentinel errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == ErrorKindTask && t.Message == "" {
		return true
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf returns the error kind of err. Errors that are not task errors
// are considered generic task errors.
func KindOf(err error) ErrorKind {
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		kind := ErrorKind(named.ErrorName())
		if _, ok := knownErrorKinds[kind]; ok {
			return kind
		}
	}
	return ErrorKindTask
}

// FromWire rebuilds a task error received from the bus. The name may carry a
// namespace prefix (e.g. `org.taskvisor.Error.NoResult`), unknown names are
// surfaced as TaskError.
func FromWire(name, message string) *Error {
	kind := ErrorKind(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		kind = ErrorKind(name[i+1:])
	}
	if _, ok := knownErrorKinds[kind]; !ok {
		kind = ErrorKindTask
	}
	return &Error{Kind: kind, Message: message}
}

// SourceSetupError is returned when a source could not be set up.
type SourceSetupError struct {
	Source string
	Err    error
}

func (e *SourceSetupError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("source setup failed: %s", e.Err)
	}
	return fmt.Sprintf("source %q setup failed: %s", e.Source, e.Err)
}

func (e *SourceSetupError) Unwrap() error     { return e.Err }
func (e *SourceSetupError) ErrorName() string { return string(ErrorKindSourceSetup) }

func (e *SourceSetupError) Is(target error) bool {
	return target == ErrSourceSetup || target == ErrTask
}

// ErrNoSourcesConfigured is returned when a set up is requested without sources.
var ErrNoSourcesConfigured = &SourceSetupError{Err: errors.New("no sources configured")}

// TearDownFailure is a single failed tear down task.
type TearDownFailure struct {
	Source string
	Task   string
	Reason error
}

// TearDownError aggregates all the failures of a sources tear down, in the
// order they happened.
type TearDownError struct {
	Failures []TearDownFailure
}

func (e *TearDownError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s/%s: %s", f.Source, f.Task, f.Reason))
	}
	return fmt.Sprintf("failed to tear down the sources: %s", strings.Join(msgs, "; "))
}

func (e *TearDownError) ErrorName() string { return string(ErrorKindSourceTearDown) }

func (e *TearDownError) Is(target error) bool {
	return target == ErrSourceTearDown || target == ErrTask
}
