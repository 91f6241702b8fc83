package model

import "fmt"

// Phase is a named batch of per-module tasks of an installation.
type Phase string

const (
	PhaseConfigureRuntime Phase = "configure-runtime"
	PhaseInstallSystem    Phase = "install-system"
)

// phaseInfo is the static information of a phase.
type phaseInfo struct {
	ModuleMethod string
	TaskName     string
}

var phases = map[Phase]phaseInfo{
	PhaseConfigureRuntime: {ModuleMethod: "ConfigureWithTasks", TaskName: "Configure the runtime"},
	PhaseInstallSystem:    {ModuleMethod: "InstallWithTasks", TaskName: "Install the system"},
}

// Phases returns the installation phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseConfigureRuntime, PhaseInstallSystem}
}

// Validate checks the phase is a known one.
func (p Phase) Validate() error {
	if _, ok := phases[p]; !ok {
		return fmt.Errorf("unknown phase %q: %w", p, ErrNotValid)
	}
	return nil
}

// ModuleMethod returns the module bus method that returns the tasks of the phase.
func (p Phase) ModuleMethod() string { return phases[p].ModuleMethod }

// TaskName returns the name of the phase task.
func (p Phase) TaskName() string { return phases[p].TaskName }
