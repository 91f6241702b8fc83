// Package taskbus publishes tasks on the bus and gives access to the remote
// ones.
//
// A published task object has the read only properties `Name` (string),
// `Steps` (int32), `Progress` ((int32, string)) and `IsRunning` (bool), the
// methods `Start`, `Cancel`, `Finish` and `GetResult` and the signals
// `Started`, `ProgressChanged`, `Succeeded`, `Failed` and `Stopped`.
package taskbus

import (
	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/model"
)

const (
	// TaskInterface is the bus interface of the task objects.
	TaskInterface = "org.taskvisor.Task"
	// ErrorNamespace is the namespace of the task error names on the bus.
	ErrorNamespace = "org.taskvisor.Error"

	// TasksNamespace is the object path where the tasks are published by default.
	TasksNamespace = bus.ObjectPath("/org/taskvisor/Tasks")
)

// Members of the task interface.
const (
	PropertyName      = "Name"
	PropertySteps     = "Steps"
	PropertyProgress  = "Progress"
	PropertyIsRunning = "IsRunning"

	MethodStart     = "Start"
	MethodCancel    = "Cancel"
	MethodFinish    = "Finish"
	MethodGetResult = "GetResult"

	SignalStarted         = "Started"
	SignalProgressChanged = "ProgressChanged"
	SignalSucceeded       = "Succeeded"
	SignalFailed          = "Failed"
	SignalStopped         = "Stopped"
)

// ProgressValue is the bus representation of the task progress.
type ProgressValue struct {
	Step    int32
	Message string
}

func toProgressValue(p model.Progress) ProgressValue {
	return ProgressValue{Step: int32(p.Step), Message: p.Message}
}

func (p ProgressValue) model() model.Progress {
	return model.Progress{Step: int(p.Step), Message: p.Message}
}

// ErrorName returns the bus error name of a task error kind.
func ErrorName(kind model.ErrorKind) string {
	return ErrorNamespace + "." + string(kind)
}

// toWireError converts a task error into a bus error keeping its kind.
func toWireError(err error) error {
	if err == nil {
		return nil
	}
	return &bus.Error{Name: ErrorName(model.KindOf(err)), Message: err.Error()}
}

// fromWireError converts a bus error into a task error. Errors without a
// known task error name are task errors.
func fromWireError(err error) error {
	if err == nil {
		return nil
	}
	be := bus.ToError(err)
	return model.FromWire(be.Name, be.Message)
}
