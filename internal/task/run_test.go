package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/task"
)

func TestSyncRun(t *testing.T) {
	errTest := errors.New("whatever")

	tests := map[string]struct {
		runFunc task.RunFunc
		ctx     func() context.Context
		expErr  error
	}{
		"A successful task should return no error.": {
			runFunc: func(ctx context.Context, r task.Reporter) (any, error) { return nil, nil },
			ctx:     context.Background,
		},

		"A failing task should return the task error.": {
			runFunc: func(ctx context.Context, r task.Reporter) (any, error) { return nil, errTest },
			ctx:     context.Background,
			expErr:  errTest,
		},

		"A done context should cancel the task.": {
			runFunc: func(ctx context.Context, r task.Reporter) (any, error) {
				<-ctx.Done()
				return nil, nil
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tsk := newTask(t, task.Func("Sync Task", test.runFunc))

			err := task.SyncRun(test.ctx(), tsk)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, tsk.IsRunning())
		})
	}
}

func TestAsyncRun(t *testing.T) {
	require := require.New(t)
	errTest := errors.New("whatever")

	tsk := newTask(t, task.Func("Async Task", func(ctx context.Context, r task.Reporter) (any, error) {
		return nil, errTest
	}))

	gotErr := make(chan error, 2)
	require.NoError(task.AsyncRun(tsk, func(err error) { gotErr <- err }))

	select {
	case err := <-gotErr:
		assert.ErrorIs(t, err, errTest)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the callback")
	}

	// Already started tasks can't be run again.
	require.Error(task.AsyncRun(tsk, func(err error) { gotErr <- err }))
	assert.Len(t, gotErr, 0)
}

func TestWaitFor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	release := make(chan struct{})
	tsk := newTask(t, task.Func("Waiting Task", func(ctx context.Context, r task.Reporter) (any, error) {
		<-release
		return nil, nil
	}))
	require.NoError(tsk.Start())

	err := task.WaitFor(context.Background(), tsk, 50*time.Millisecond)
	assert.ErrorIs(err, model.ErrTimeout)
	assert.True(tsk.IsRunning())

	close(release)
	err = task.WaitFor(context.Background(), tsk, 5*time.Second)
	assert.NoError(err)
	assert.NoError(tsk.Finish())
}
