package metatask_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slok/taskvisor/internal/bus/memory"
	"github.com/slok/taskvisor/internal/metatask"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/signal"
	"github.com/slok/taskvisor/internal/task"
	"github.com/slok/taskvisor/internal/taskbus"
	"github.com/slok/taskvisor/internal/taskbus/taskbusmock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testService = "org.taskvisor.Module.Test"

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

// remoteTasks publishes the runnables on an in-process bus and returns their proxies.
func remoteTasks(t *testing.T, rs ...task.Runnable) []taskbus.RemoteTask {
	t.Helper()
	require := require.New(t)

	b, err := memory.NewBroker(memory.BrokerConfig{})
	require.NoError(err)
	server, err := b.Connect(memory.ConnConfig{})
	require.NoError(err)
	t.Cleanup(func() { _ = server.Close() })
	require.NoError(server.RequestName(testService))
	client, err := b.Connect(memory.ConnConfig{})
	require.NoError(err)
	t.Cleanup(func() { _ = client.Close() })

	var proxies []taskbus.RemoteTask
	for _, r := range rs {
		tsk, err := task.New(task.TaskConfig{Runnable: r})
		require.NoError(err)
		iface, err := taskbus.Publish(taskbus.PublishConfig{Task: tsk, Conn: server})
		require.NoError(err)
		p, err := taskbus.NewProxy(context.Background(), taskbus.ProxyConfig{Conn: client, Service: testService, Path: iface.Path()})
		require.NoError(err)
		proxies = append(proxies, p)
	}

	return proxies
}

func newMetaTask(t *testing.T, name string, subtasks ...taskbus.RemoteTask) *task.Task {
	t.Helper()
	m, err := metatask.New(metatask.MetaTaskConfig{Name: name, Subtasks: subtasks})
	require.NoError(t, err)
	tsk, err := task.New(task.TaskConfig{Runnable: m})
	require.NoError(t, err)
	return tsk
}

func installTask(name string, steps int, executed *atomic.Int32) task.Runnable {
	return &task.FuncRunnable{
		TaskName:  name,
		TaskSteps: steps,
		RunFunc: func(ctx context.Context, r task.Reporter) (any, error) {
			if executed != nil {
				executed.Add(1)
			}
			r.ReportProgress("Install "+name, task.WithStepNumber(1))
			return nil, nil
		},
	}
}

func TestMetaTaskRun(t *testing.T) {
	tests := map[string]struct {
		subtasks   []task.Runnable
		expSteps   int
		expSignals []string
		expErr     error
	}{
		"A meta task without subtasks should succeed.": {
			expSteps:   0,
			expSignals: []string{"started", "succeeded", "stopped"},
		},

		"A meta task should stitch the progress of its subtasks.": {
			subtasks: []task.Runnable{
				installTask("A", 1, nil),
				installTask("B", 1, nil),
				installTask("C", 1, nil),
			},
			expSteps: 3,
			expSignals: []string{
				"started",
				"progress(1,Install A)",
				"progress(2,Install B)",
				"progress(3,Install C)",
				"succeeded",
				"stopped",
			},
		},

		"A meta task should count the steps of incomplete subtasks.": {
			subtasks: []task.Runnable{
				installTask("A", 1, nil),
				installTask("incomplete task", 5, nil),
				installTask("B", 1, nil),
				installTask("C", 1, nil),
			},
			expSteps: 8,
			expSignals: []string{
				"started",
				"progress(1,Install A)",
				"progress(2,Install incomplete task)",
				"progress(7,Install B)",
				"progress(8,Install C)",
				"succeeded",
				"stopped",
			},
		},

		"A failing subtask should fail the meta task with its error.": {
			subtasks: []task.Runnable{
				installTask("A", 1, nil),
				task.Func("B", func(ctx context.Context, r task.Reporter) (any, error) {
					return nil, model.NewError(model.ErrorKindInstall, "no space left")
				}),
				installTask("C", 1, nil),
			},
			expSteps:   3,
			expSignals: []string{"started", "progress(1,Install A)", "failed", "stopped"},
			expErr:     model.NewError(model.ErrorKindInstall, "no space left"),
		},

		"Subtasks without steps should be run.": {
			subtasks: []task.Runnable{
				&task.FuncRunnable{TaskName: "Empty"},
				installTask("A", 1, nil),
			},
			expSteps:   1,
			expSignals: []string{"started", "progress(1,Install A)", "succeeded", "stopped"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tsk := newMetaTask(t, "Install the system", remoteTasks(t, test.subtasks...)...)
			assert.Equal(test.expSteps, tsk.Steps())
			rec := recordSignals(tsk)

			require.NoError(tsk.Start())
			assert.Equal(test.expSignals, rec.wait(t))

			err := tsk.Finish()
			if test.expErr != nil {
				assert.Equal(test.expErr, err)
			} else {
				assert.NoError(err)
			}
			_, err = tsk.Result()
			assert.ErrorIs(err, model.ErrNoResult)
		})
	}
}

func TestMetaTaskFailureShortCircuit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var executed atomic.Int32
	subtasks := remoteTasks(t,
		installTask("A", 1, &executed),
		task.Func("B", func(ctx context.Context, r task.Reporter) (any, error) {
			return nil, fmt.Errorf("whatever")
		}),
		installTask("C", 1, &executed),
		installTask("D", 1, &executed),
	)
	tsk := newMetaTask(t, "Configure the runtime", subtasks...)
	rec := recordSignals(tsk)

	require.NoError(tsk.Start())
	events := rec.wait(t)

	assert.ErrorIs(tsk.Finish(), model.ErrTask)
	assert.Equal(int32(1), executed.Load())
	assert.Equal([]string{"failed", "stopped"}, events[len(events)-2:])
	assert.NotContains(events, "succeeded")
	assert.True(tsk.CheckCancel(), "a failed subtask should cancel the meta task")
}

func TestMetaTaskCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var executed atomic.Int32
	running := make(chan struct{})
	subtasks := remoteTasks(t,
		task.Func("Sleeping", func(ctx context.Context, r task.Reporter) (any, error) {
			close(running)
			for !r.CheckCancel() {
				time.Sleep(10 * time.Millisecond)
			}
			return nil, nil
		}),
		installTask("B", 1, &executed),
	)
	tsk := newMetaTask(t, "Install the system", subtasks...)
	rec := recordSignals(tsk)

	require.NoError(tsk.Start())
	<-running
	tsk.Cancel()

	assert.Equal([]string{"started", "stopped"}, rec.wait(t))
	assert.NoError(tsk.Finish())
	assert.Equal(int32(0), executed.Load())
}

// mockSubtask returns a subtask mock that runs fn with the subscribed handlers when started.
func mockSubtask(t *testing.T, name string, steps int, fn func(h taskbus.Handlers), finishErr error) *taskbusmock.MockRemoteTask {
	m := taskbusmock.NewMockRemoteTask(t)
	var h taskbus.Handlers
	m.On("Name").Maybe().Return(name)
	m.On("Steps").Once().Return(steps)
	m.On("Subscribe", mock.Anything).Once().Run(func(args mock.Arguments) {
		h = args.Get(0).(taskbus.Handlers)
	}).Return(signal.HandleFunc(func() {}), nil)
	m.On("Start", mock.Anything).Once().Run(func(args mock.Arguments) { fn(h) }).Return(nil)
	m.On("Finish", mock.Anything).Maybe().Return(finishErr)
	return m
}

func TestMetaTaskProgressClamping(t *testing.T) {
	tests := map[string]struct {
		subtasks   func(t *testing.T) []taskbus.RemoteTask
		expSignals []string
		expErr     error
	}{
		"Progress over the subtask steps should be clamped.": {
			subtasks: func(t *testing.T) []taskbus.RemoteTask {
				return []taskbus.RemoteTask{
					mockSubtask(t, "A", 2, func(h taskbus.Handlers) {
						h.ProgressChanged(model.Progress{Step: 5, Message: "too far"})
						h.Stopped()
					}, nil),
					mockSubtask(t, "B", 2, func(h taskbus.Handlers) {
						h.ProgressChanged(model.Progress{Step: 1, Message: "b1"})
						h.Stopped()
					}, nil),
				}
			},
			expSignals: []string{"started", "progress(2,too far)", "progress(3,b1)", "succeeded", "stopped"},
		},

		"Progress at step zero should keep the finished steps.": {
			subtasks: func(t *testing.T) []taskbus.RemoteTask {
				return []taskbus.RemoteTask{
					mockSubtask(t, "A", 1, func(h taskbus.Handlers) {
						h.ProgressChanged(model.Progress{Step: 0, Message: "a0"})
						h.Stopped()
					}, nil),
					mockSubtask(t, "B", 3, func(h taskbus.Handlers) {
						h.ProgressChanged(model.Progress{Step: 0, Message: "b0"})
						h.ProgressChanged(model.Progress{Step: -2, Message: "negative"})
						h.Stopped()
					}, nil),
				}
			},
			expSignals: []string{"started", "progress(1,a0)", "progress(1,b0)", "progress(1,negative)", "succeeded", "stopped"},
		},

		"Progress after a subtask failure should be ignored.": {
			subtasks: func(t *testing.T) []taskbus.RemoteTask {
				return []taskbus.RemoteTask{
					mockSubtask(t, "A", 2, func(h taskbus.Handlers) {
						h.ProgressChanged(model.Progress{Step: 1, Message: "a1"})
						h.Failed()
						h.ProgressChanged(model.Progress{Step: 2, Message: "a2"})
						h.Stopped()
					}, model.NewError(model.ErrorKindInstall, "failed")),
				}
			},
			expSignals: []string{"started", "progress(1,a1)", "failed", "stopped"},
			expErr:     model.NewError(model.ErrorKindInstall, "failed"),
		},

		"A disconnected subtask should fail the meta task.": {
			subtasks: func(t *testing.T) []taskbus.RemoteTask {
				return []taskbus.RemoteTask{
					mockSubtask(t, "A", 1, func(h taskbus.Handlers) {
						h.Disconnected()
					}, nil),
				}
			},
			expSignals: []string{"started", "failed", "stopped"},
			expErr:     model.ErrTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tsk := newMetaTask(t, "Meta", test.subtasks(t)...)
			rec := recordSignals(tsk)

			require.NoError(tsk.Start())
			assert.Equal(test.expSignals, rec.wait(t))

			err := tsk.Finish()
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestNewMetaTask(t *testing.T) {
	tests := map[string]struct {
		config metatask.MetaTaskConfig
		expErr bool
	}{
		"A valid config should create the meta task.": {
			config: metatask.MetaTaskConfig{Name: "Meta"},
		},
		"A missing name should fail.": {
			config: metatask.MetaTaskConfig{},
			expErr: true,
		},
		"A missing subtask should fail.": {
			config: metatask.MetaTaskConfig{Name: "Meta", Subtasks: []taskbus.RemoteTask{nil}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := metatask.New(test.config)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
