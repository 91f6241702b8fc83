// Package loop implements the single goroutine cooperative event loop every
// process uses to emit signals and dispatch bus traffic.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskvisor/internal/log"
)

// Dispatcher knows how to schedule functions.
type Dispatcher interface {
	// Post schedules fn, it never blocks.
	Post(fn func())
}

// DispatcherFunc is a function that is a Dispatcher.
type DispatcherFunc func(fn func())

// Post satisfies Dispatcher interface.
func (d DispatcherFunc) Post(fn func()) { d(fn) }

// Immediate executes the functions inline, on the calling goroutine.
var Immediate = DispatcherFunc(func(fn func()) { fn() })

// LoopConfig is the configuration of the event loop.
type LoopConfig struct {
	Name   string
	Logger log.Logger
}

func (c *LoopConfig) defaults() error {
	if c.Name == "" {
		c.Name = "main"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "loop.Loop", "loop": c.Name})
	return nil
}

// Loop is an event loop that executes the posted functions in order on a single goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	quit    chan struct{}
	quitOne sync.Once
	running bool
	logger  log.Logger
}

// New returns a new event loop.
func New(cfg LoopConfig) (*Loop, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Loop{
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		logger: cfg.Logger,
	}, nil
}

// Post schedules a function to be executed by the loop. Functions posted before
// the loop runs are queued.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run executes the posted functions until the loop is quit or the context is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.Debugf("Event loop started")
	for {
		l.drain()

		select {
		case <-ctx.Done():
			l.logger.Debugf("Event loop stopped by context")
			return nil
		case <-l.quit:
			l.drain()
			l.logger.Debugf("Event loop quit")
			return nil
		case <-l.notify:
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

// Quit stops the loop, the already posted functions are executed before returning from Run.
func (l *Loop) Quit() {
	l.quitOne.Do(func() { close(l.quit) })
}

// QuitAfter schedules the loop quit after d, so the in-flight work can drain.
func (l *Loop) QuitAfter(d time.Duration) {
	time.AfterFunc(d, func() { l.Post(l.Quit) })
}

// Done returns a channel that is closed when the loop has been quit.
func (l *Loop) Done() <-chan struct{} { return l.quit }

// Sync posts fn and waits until the loop has executed it.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-l.quit:
		return fmt.Errorf("loop quit")
	case <-ctx.Done():
		return ctx.Err()
	}
}
