package model

import (
	"time"
)

// Progress is the reported progress of a task.
type Progress struct {
	Step    int
	Message string
}

// StepStatus represents the state of a journaled phase step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// Step is a single subtask of a journaled phase run.
type Step struct {
	ID        string
	RunID     string
	Sequence  int
	Service   string
	Name      string
	Status    StepStatus
	Error     string
	CreatedAt time.Time
}

// Run is a journaled execution of an installation phase.
type Run struct {
	ID        string
	Phase     Phase
	Name      string
	CreatedAt time.Time
	Steps     []Step
}

// RunProgress represents the completion state of a phase run.
type RunProgress struct {
	Done   int
	Failed int
	Total  int
}
