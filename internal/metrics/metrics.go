package metrics

import "time"

// Task run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Recorder knows how to record the supervisor metrics.
type Recorder interface {
	// ObserveTaskRun records a finished task run.
	ObserveTaskRun(task, outcome string, duration time.Duration)
	// SetModuleAvailable records the availability of a module.
	SetModuleAvailable(service string, available bool)
}

// Noop is a Recorder that doesn't record anything.
const Noop = noop(0)

type noop int

func (noop) ObserveTaskRun(task, outcome string, duration time.Duration) {}
func (noop) SetModuleAvailable(service string, available bool)           {}
