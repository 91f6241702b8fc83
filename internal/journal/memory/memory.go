package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskvisor/internal/journal"
	"github.com/slok/taskvisor/internal/model"
)

// Journal is an in-memory journal.
type Journal struct {
	mu    sync.Mutex
	runs  []*model.Run
	steps map[string]*model.Step
}

var _ journal.Journal = &Journal{}

// NewJournal returns a new in-memory journal.
func NewJournal() *Journal {
	return &Journal{steps: map[string]*model.Step{}}
}

func (j *Journal) BeginRun(ctx context.Context, phase model.Phase, name string, steps []model.Step) (*model.Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	run := &model.Run{
		ID:        ulid.Make().String(),
		Phase:     phase,
		Name:      name,
		CreatedAt: now,
	}
	for i, s := range steps {
		run.Steps = append(run.Steps, model.Step{
			ID:        ulid.Make().String(),
			RunID:     run.ID,
			Sequence:  i + 1,
			Service:   s.Service,
			Name:      s.Name,
			Status:    model.StepStatusPending,
			CreatedAt: now,
		})
	}
	for i := range run.Steps {
		j.steps[run.Steps[i].ID] = &run.Steps[i]
	}
	j.runs = append(j.runs, run)

	return copyRun(run), nil
}

func (j *Journal) CompleteStep(ctx context.Context, stepID string) error {
	return j.setStatus(stepID, model.StepStatusDone, "")
}

func (j *Journal) FailStep(ctx context.Context, stepID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return j.setStatus(stepID, model.StepStatusFailed, msg)
}

func (j *Journal) setStatus(stepID string, status model.StepStatus, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	s, ok := j.steps[stepID]
	if !ok {
		return fmt.Errorf("step %s: %w", stepID, model.ErrNotFound)
	}
	s.Status = status
	s.Error = msg
	return nil
}

func (j *Journal) Progress(ctx context.Context, runID string) (*model.RunProgress, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range j.runs {
		if r.ID != runID {
			continue
		}
		p := &model.RunProgress{Total: len(r.Steps)}
		for _, s := range r.Steps {
			switch s.Status {
			case model.StepStatusDone:
				p.Done++
			case model.StepStatusFailed:
				p.Failed++
			}
		}
		return p, nil
	}

	return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
}

func (j *Journal) ListRuns(ctx context.Context) ([]model.Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	runs := make([]model.Run, 0, len(j.runs))
	for _, r := range j.runs {
		runs = append(runs, *copyRun(r))
	}
	return runs, nil
}

func copyRun(r *model.Run) *model.Run {
	c := *r
	c.Steps = append([]model.Step(nil), r.Steps...)
	return &c
}
