package task

import (
	"github.com/slok/taskvisor/internal/model"
)

// Reporter is the capability the work has over its task.
type Reporter interface {
	// ReportProgress reports the progress of the task. With no options only the
	// message of the current step is updated.
	ReportProgress(message string, opts ...ProgressOption)
	// CheckCancel returns true if the task should stop.
	CheckCancel() bool
}

// Canceler is implemented by the reporters of tasks that can cancel themselves.
type Canceler interface {
	Cancel()
}

// ProgressOption sets the step of a progress report.
type ProgressOption func(*progressReport)

type progressReport struct {
	stepNumber *int
	stepSize   *int
}

// WithStepNumber sets the absolute step of the report.
func WithStepNumber(n int) ProgressOption {
	return func(r *progressReport) { r.stepNumber = &n }
}

// WithStepSize advances the current step of the report.
func WithStepSize(n int) ProgressOption {
	return func(r *progressReport) { r.stepSize = &n }
}

type reporter struct {
	t *Task
}

func (r reporter) ReportProgress(message string, opts ...ProgressOption) {
	r.t.reportProgress(message, opts...)
}

func (r reporter) CheckCancel() bool { return r.t.CheckCancel() }

func (r reporter) Cancel() { r.t.Cancel() }

// reportProgress updates the progress if the new step is valid. Steps can't
// decrease, exceed the steps of the task or be set with a number and a size
// at the same time.
func (t *Task) reportProgress(message string, opts ...ProgressOption) bool {
	report := progressReport{}
	for _, opt := range opts {
		opt(&report)
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	current := t.progress.Step
	newStep, ok := nextStep(current, t.steps, report)
	if !ok {
		t.mu.Unlock()
		t.logger.Debugf("Invalid progress report ignored (current step %d of %d)", current, t.steps)
		return false
	}
	progress := model.Progress{Step: newStep, Message: message}
	t.progress = progress
	t.mu.Unlock()

	t.dispatcher.Post(func() { t.signals.ProgressChanged.Emit(progress) })

	return true
}

func nextStep(current, steps int, report progressReport) (int, bool) {
	minStep := min(1, steps)

	var newStep int
	switch {
	case report.stepNumber != nil && report.stepSize != nil:
		return current, false
	case report.stepNumber != nil:
		newStep = *report.stepNumber
	case report.stepSize != nil:
		newStep = current + *report.stepSize
	default:
		newStep = max(current, minStep)
	}

	if newStep < current || newStep < minStep || newStep > steps {
		return current, false
	}

	return newStep, true
}
