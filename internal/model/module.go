package model

import "time"

// Module is the information of a configured installer module.
type Module struct {
	// Service is the unique bus name of the module.
	Service string
	// Optional modules that can't be started don't fail the start of the fleet
	// when the boss tolerates it.
	Optional bool
}

// ModuleStatus is the observed state of a module.
type ModuleStatus struct {
	Module
	Available bool
}

// TaskRef references a task published by a module.
type TaskRef struct {
	Service string
	Path    string
}

// Requirement is a requirement of a module for the installation
// (e.g a package or a group that needs to be installed).
type Requirement struct {
	Type   string
	Name   string
	Reason string
}

// KickstartReport is the result of distributing a kickstart file to the modules.
type KickstartReport struct {
	Errors   []KickstartMessage
	Warnings []KickstartMessage
}

// KickstartMessage is a kickstart processing message of a module.
type KickstartMessage struct {
	Service    string
	LineNumber int
	Message    string
}

// IsValid returns true when the kickstart didn't contain errors.
func (r KickstartReport) IsValid() bool { return len(r.Errors) == 0 }

// BossConfig is the configuration of the boss of an installation.
type BossConfig struct {
	Modules []Module
	// ModuleStartTimeout is the time every module has to appear on the bus.
	ModuleStartTimeout time.Duration
	// TolerateOptionalModules ignores the optional modules that couldn't be started.
	TolerateOptionalModules bool
	Locale                  string
	// QuitDelay is the time the boss waits after a Quit request before stopping.
	QuitDelay   time.Duration
	JournalPath string
	// StepDelay is the duration of every step of the simulated modules.
	StepDelay time.Duration
}
