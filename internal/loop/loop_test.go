package loop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/loop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopOrder(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l, err := loop.New(loop.LoopConfig{Logger: log.Noop})
	require.NoError(err)

	var mu sync.Mutex
	got := []int{}
	add := func(i int) func() {
		return func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}
	}

	// Posted before running.
	l.Post(add(1))
	l.Post(add(2))

	// Posted from the loop itself.
	l.Post(func() {
		add(3)()
		l.Post(add(5))
	})
	l.Post(add(4))
	l.QuitAfter(50 * time.Millisecond)

	errC := make(chan error)
	go func() { errC <- l.Run(context.Background()) }()

	require.NoError(<-errC)
	assert.Equal([]int{1, 2, 3, 4, 5}, got)
}

func TestLoopContextCancel(t *testing.T) {
	require := require.New(t)

	l, err := loop.New(loop.LoopConfig{})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error)
	go func() { errC <- l.Run(ctx) }()

	require.NoError(l.Sync(context.Background(), func() {}))
	cancel()
	require.NoError(<-errC)
}

func TestLoopRunTwice(t *testing.T) {
	require := require.New(t)

	l, err := loop.New(loop.LoopConfig{})
	require.NoError(err)

	errC := make(chan error)
	go func() { errC <- l.Run(context.Background()) }()
	require.NoError(l.Sync(context.Background(), func() {}))

	require.Error(l.Run(context.Background()))

	l.Quit()
	l.Quit()
	require.NoError(<-errC)
}

func TestImmediate(t *testing.T) {
	called := false
	loop.Immediate.Post(func() { called = true })
	assert.True(t, called)
}
