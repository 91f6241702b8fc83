package task

import "context"

// RunFunc is the work of a FuncRunnable.
type RunFunc func(ctx context.Context, r Reporter) (any, error)

// FuncRunnable is a Runnable created from a function.
type FuncRunnable struct {
	TaskName  string
	TaskSteps int
	TaskClass string
	RunFunc   RunFunc
}

// Func returns a single step runnable that executes fn.
func Func(name string, fn RunFunc) *FuncRunnable {
	return &FuncRunnable{TaskName: name, TaskSteps: 1, RunFunc: fn}
}

func (f *FuncRunnable) Name() string { return f.TaskName }
func (f *FuncRunnable) Steps() int   { return f.TaskSteps }

func (f *FuncRunnable) Class() string {
	if f.TaskClass == "" {
		return "FuncTask"
	}
	return f.TaskClass
}

func (f *FuncRunnable) Run(ctx context.Context, r Reporter) (any, error) {
	if f.RunFunc == nil {
		return nil, nil
	}
	return f.RunFunc(ctx, r)
}
