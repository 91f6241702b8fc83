// Package journal records the phase runs of the installation for diagnostics.
// The journal is never read to resume work.
package journal

import (
	"context"

	"github.com/slok/taskvisor/internal/model"
)

// Journal records phase runs and the outcome of their steps.
type Journal interface {
	// BeginRun records a new run with its steps as pending. Only the service
	// and the name of the steps are used, the recorded run is returned.
	BeginRun(ctx context.Context, phase model.Phase, name string, steps []model.Step) (*model.Run, error)

	// CompleteStep marks a step as done.
	CompleteStep(ctx context.Context, stepID string) error

	// FailStep marks a step as failed with the error.
	FailStep(ctx context.Context, stepID string, err error) error

	// Progress returns the completion progress of a run.
	Progress(ctx context.Context, runID string) (*model.RunProgress, error)

	// ListRuns returns the recorded runs in creation order.
	ListRuns(ctx context.Context) ([]model.Run, error)
}

// Noop is a Journal that doesn't record anything.
var Noop Journal = noop(0)

type noop int

func (noop) BeginRun(_ context.Context, phase model.Phase, name string, steps []model.Step) (*model.Run, error) {
	return &model.Run{Phase: phase, Name: name, Steps: steps}, nil
}
func (noop) CompleteStep(context.Context, string) error    { return nil }
func (noop) FailStep(context.Context, string, error) error { return nil }
func (noop) ListRuns(context.Context) ([]model.Run, error) { return nil, nil }
func (noop) Progress(context.Context, string) (*model.RunProgress, error) {
	return &model.RunProgress{}, nil
}
