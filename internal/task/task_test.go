package task_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// signalRecorder records the signals emitted by a task.
type signalRecorder struct {
	mu      sync.Mutex
	events  []string
	stopped chan struct{}
}

func recordSignals(r task.Runner) *signalRecorder {
	rec := &signalRecorder{stopped: make(chan struct{})}
	s := r.Signals()
	s.Started.Connect(func(struct{}) { rec.add("started") })
	s.ProgressChanged.Connect(func(p model.Progress) { rec.add(fmt.Sprintf("progress(%d,%s)", p.Step, p.Message)) })
	s.Succeeded.Connect(func(struct{}) { rec.add("succeeded") })
	s.Failed.Connect(func(struct{}) { rec.add("failed") })
	s.Stopped.Connect(func(struct{}) {
		rec.add("stopped")
		close(rec.stopped)
	})
	return rec
}

func (r *signalRecorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *signalRecorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the task to stop")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

func newTask(t *testing.T, r task.Runnable) *task.Task {
	t.Helper()
	tsk, err := task.New(task.TaskConfig{Runnable: r, Logger: log.Noop})
	require.NoError(t, err)
	return tsk
}

func TestNewTask(t *testing.T) {
	tests := map[string]struct {
		config task.TaskConfig
		expErr bool
	}{
		"A valid config should create the task.": {
			config: task.TaskConfig{Runnable: task.Func("Simple Task", nil)},
		},
		"A missing runnable should fail.": {
			config: task.TaskConfig{},
			expErr: true,
		},
		"A missing name should fail.": {
			config: task.TaskConfig{Runnable: task.Func("", nil)},
			expErr: true,
		},
		"Negative steps should fail.": {
			config: task.TaskConfig{Runnable: &task.FuncRunnable{TaskName: "t", TaskSteps: -1}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tsk, err := task.New(test.config)
			if test.expErr {
				assert.Error(t, err)
				assert.Nil(t, tsk)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, tsk)
			}
		})
	}
}

func TestTaskRun(t *testing.T) {
	errTest := errors.New("whatever")

	tests := map[string]struct {
		runnable    task.Runnable
		expSignals  []string
		expProgress model.Progress
		expResult   any
		expResErr   error
		expErr      error
	}{
		"A simple task should succeed without progress and result.": {
			runnable:    task.Func("Simple Task", nil),
			expSignals:  []string{"started", "succeeded", "stopped"},
			expProgress: model.Progress{Step: 0, Message: ""},
			expResErr:   model.ErrNoResult,
		},

		"A multistep task should report its progress.": {
			runnable: &task.FuncRunnable{
				TaskName:  "Multistep Task",
				TaskSteps: 20,
				RunFunc: func(ctx context.Context, r task.Reporter) (any, error) {
					r.ReportProgress("A", task.WithStepSize(1))
					r.ReportProgress("B", task.WithStepSize(1))
					r.ReportProgress("C", task.WithStepSize(1))
					r.ReportProgress("D", task.WithStepSize(7))
					r.ReportProgress("E", task.WithStepNumber(11))
					r.ReportProgress("F", task.WithStepNumber(15))
					r.ReportProgress("G", task.WithStepNumber(20))
					return nil, nil
				},
			},
			expSignals: []string{
				"started",
				"progress(1,A)",
				"progress(2,B)",
				"progress(3,C)",
				"progress(10,D)",
				"progress(11,E)",
				"progress(15,F)",
				"progress(20,G)",
				"succeeded",
				"stopped",
			},
			expProgress: model.Progress{Step: 20, Message: "G"},
			expResErr:   model.ErrNoResult,
		},

		"Invalid progress reports should be ignored.": {
			runnable: task.Func("Invalid Progress Task", func(ctx context.Context, r task.Reporter) (any, error) {
				r.ReportProgress("A", task.WithStepSize(1))
				r.ReportProgress("B", task.WithStepSize(1))
				r.ReportProgress("C", task.WithStepSize(10))
				r.ReportProgress("D", task.WithStepNumber(0))
				r.ReportProgress("E", task.WithStepNumber(1), task.WithStepSize(0))
				return nil, nil
			}),
			expSignals:  []string{"started", "progress(1,A)", "succeeded", "stopped"},
			expProgress: model.Progress{Step: 1, Message: "A"},
			expResErr:   model.ErrNoResult,
		},

		"A message only report should update the message at the current step.": {
			runnable: &task.FuncRunnable{
				TaskName:  "Message Task",
				TaskSteps: 3,
				RunFunc: func(ctx context.Context, r task.Reporter) (any, error) {
					r.ReportProgress("A")
					r.ReportProgress("B", task.WithStepSize(1))
					r.ReportProgress("C")
					return nil, nil
				},
			},
			expSignals:  []string{"started", "progress(1,A)", "progress(2,B)", "progress(2,C)", "succeeded", "stopped"},
			expProgress: model.Progress{Step: 2, Message: "C"},
			expResErr:   model.ErrNoResult,
		},

		"A task with a result should return it.": {
			runnable: task.Func("Result Task", func(ctx context.Context, r task.Reporter) (any, error) {
				return "the-result", nil
			}),
			expSignals: []string{"started", "succeeded", "stopped"},
			expResult:  "the-result",
		},

		"A failing task should emit failed and return the error on finish.": {
			runnable: task.Func("Failing Task", func(ctx context.Context, r task.Reporter) (any, error) {
				r.ReportProgress("A", task.WithStepSize(1))
				return "ignored", errTest
			}),
			expSignals:  []string{"started", "progress(1,A)", "failed", "stopped"},
			expProgress: model.Progress{Step: 1, Message: "A"},
			expResErr:   model.ErrNoResult,
			expErr:      errTest,
		},

		"A panicking task should fail with a task error.": {
			runnable: task.Func("Panic Task", func(ctx context.Context, r task.Reporter) (any, error) {
				panic("boom")
			}),
			expSignals: []string{"started", "failed", "stopped"},
			expResErr:  model.ErrNoResult,
			expErr:     model.ErrTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tsk := newTask(t, test.runnable)
			rec := recordSignals(tsk)

			require.NoError(tsk.Start())
			gotSignals := rec.wait(t)

			assert.Equal(test.expSignals, gotSignals)
			assert.Equal(test.expProgress, tsk.Progress())
			assert.False(tsk.IsRunning())

			// Finish should be deterministic.
			for i := 0; i < 2; i++ {
				err := tsk.Finish()
				if test.expErr != nil {
					assert.ErrorIs(err, test.expErr)
				} else {
					assert.NoError(err)
				}
			}

			res, err := tsk.Result()
			if test.expResErr != nil {
				assert.ErrorIs(err, test.expResErr)
				assert.Nil(res)
			} else {
				assert.NoError(err)
				assert.Equal(test.expResult, res)
			}
		})
	}
}

// levelLogger records the messages of each log level.
type levelLogger struct {
	log.Logger

	mu       sync.Mutex
	messages map[string][]string
}

func newLevelLogger() *levelLogger {
	return &levelLogger{Logger: log.Noop, messages: map[string][]string{}}
}

func (l *levelLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[level] = append(l.messages[level], fmt.Sprintf(format, args...))
}

func (l *levelLogger) Debugf(format string, args ...any)        { l.add("debug", format, args...) }
func (l *levelLogger) Warningf(format string, args ...any)      { l.add("warning", format, args...) }
func (l *levelLogger) Errorf(format string, args ...any)        { l.add("error", format, args...) }
func (l *levelLogger) WithValues(log.Kv) log.Logger             { return l }
func (l *levelLogger) WithCtxValues(context.Context) log.Logger { return l }

func (l *levelLogger) get(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.messages[level]...)
}

func TestTaskInvalidProgressLogging(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logger := newLevelLogger()
	tsk, err := task.New(task.TaskConfig{
		Runnable: task.Func("Invalid Progress Task", func(ctx context.Context, r task.Reporter) (any, error) {
			r.ReportProgress("A", task.WithStepSize(1))
			r.ReportProgress("B", task.WithStepNumber(0))
			return nil, nil
		}),
		Logger: logger,
	})
	require.NoError(err)
	rec := recordSignals(tsk)

	require.NoError(tsk.Start())
	rec.wait(t)
	require.NoError(tsk.Finish())

	assert.Empty(logger.get("warning"))
	assert.Empty(logger.get("error"))
	rejected := 0
	for _, msg := range logger.get("debug") {
		if strings.HasPrefix(msg, "Invalid progress report ignored") {
			rejected++
		}
	}
	assert.Equal(1, rejected)
}

func TestTaskCancelBeforeStart(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	executed := false
	tsk := newTask(t, task.Func("Cancelled Task", func(ctx context.Context, r task.Reporter) (any, error) {
		executed = true
		return "result", nil
	}))
	rec := recordSignals(tsk)

	tsk.Cancel()
	tsk.Cancel()
	require.NoError(tsk.Start())

	assert.Equal([]string{"started", "stopped"}, rec.wait(t))
	assert.False(executed)
	assert.NoError(tsk.Finish())
	_, err := tsk.Result()
	assert.ErrorIs(err, model.ErrNoResult)
}

func TestTaskCancelWhileRunning(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tsk := newTask(t, task.Func("Sleeping Task", func(ctx context.Context, r task.Reporter) (any, error) {
		for !r.CheckCancel() {
			time.Sleep(10 * time.Millisecond)
		}
		return "result", nil
	}))
	rec := recordSignals(tsk)

	require.NoError(tsk.Start())
	time.Sleep(100 * time.Millisecond)
	assert.True(tsk.IsRunning())
	tsk.Cancel()

	assert.Equal([]string{"started", "stopped"}, rec.wait(t))
	assert.NoError(tsk.Finish())
	_, err := tsk.Result()
	assert.ErrorIs(err, model.ErrNoResult)
}

func TestTaskCancelShouldCancelTheContext(t *testing.T) {
	tests := map[string]struct {
		body task.RunFunc
	}{
		"A body returning nothing after the context is done should end as cancelled.": {
			body: func(ctx context.Context, r task.Reporter) (any, error) {
				<-ctx.Done()
				return nil, nil
			},
		},

		"A body returning the context error after the cancel should end as cancelled.": {
			body: func(ctx context.Context, r task.Reporter) (any, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(5 * time.Second):
					return "late", nil
				}
			},
		},

		"A body wrapping the context error after the cancel should end as cancelled.": {
			body: func(ctx context.Context, r task.Reporter) (any, error) {
				<-ctx.Done()
				return nil, fmt.Errorf("could not wait: %w", ctx.Err())
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tsk := newTask(t, task.Func("Blocking Task", test.body))
			rec := recordSignals(tsk)

			require.NoError(tsk.Start())
			time.Sleep(50 * time.Millisecond)
			tsk.Cancel()

			assert.Equal([]string{"started", "stopped"}, rec.wait(t))
			assert.NoError(tsk.Finish())
			_, err := tsk.Result()
			assert.ErrorIs(err, model.ErrNoResult)
		})
	}
}

func TestTaskStartTwice(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	release := make(chan struct{})
	tsk := newTask(t, task.Func("Waiting Task", func(ctx context.Context, r task.Reporter) (any, error) {
		<-release
		return nil, nil
	}))
	rec := recordSignals(tsk)

	require.NoError(tsk.Start())
	err := tsk.Start()
	assert.ErrorIs(err, model.ErrTaskAlreadyRunning)

	close(release)
	assert.Equal([]string{"started", "succeeded", "stopped"}, rec.wait(t))

	err = tsk.Start()
	assert.ErrorIs(err, model.ErrAlreadyFinished)
}

type namedRunnable struct{}

func (namedRunnable) Name() string { return "Named" }
func (namedRunnable) Run(ctx context.Context, r task.Reporter) (any, error) {
	return nil, nil
}

func TestTaskWorkerNames(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var names []string
	for i := 0; i < 3; i++ {
		tsk := newTask(t, namedRunnable{})
		rec := recordSignals(tsk)
		require.NoError(tsk.Start())
		rec.wait(t)
		names = append(names, tsk.WorkerName())
	}

	re := regexp.MustCompile(`^namedRunnable-(\d+)$`)
	var prev int
	for _, n := range names {
		m := re.FindStringSubmatch(n)
		require.Len(m, 2, n)
		var cur int
		_, err := fmt.Sscanf(m[1], "%d", &cur)
		require.NoError(err)
		assert.Greater(cur, prev)
		prev = cur
	}

	tsk := newTask(t, &task.FuncRunnable{TaskName: "Classified", TaskClass: "InstallTask"})
	rec := recordSignals(tsk)
	require.NoError(tsk.Start())
	rec.wait(t)
	assert.Regexp(`^InstallTask-\d+$`, tsk.WorkerName())
}
