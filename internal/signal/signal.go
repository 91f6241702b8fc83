// Package signal implements in-process signals: named fan-outs of listener
// callbacks with disposable connection handles.
package signal

import "sync"

// Signal is a fan-out of listeners receiving values of type T.
// Emissions are synchronous and delivered to the listeners in connection order.
type Signal[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
}

type listener[T any] struct {
	fn        func(T)
	connected bool
}

// Handle is a connection of a listener to a signal.
type Handle interface {
	// Disconnect removes the listener from the signal, it's safe to call it
	// multiple times.
	Disconnect()
}

// HandleFunc is a function that is a Handle.
type HandleFunc func()

// Disconnect satisfies Handle interface.
func (h HandleFunc) Disconnect() { h() }

// New returns a new signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connect adds a listener to the signal.
func (s *Signal[T]) Connect(fn func(T)) Handle {
	l := &listener[T]{fn: fn, connected: true}

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	var once sync.Once
	return HandleFunc(func() {
		once.Do(func() { s.disconnect(l) })
	})
}

func (s *Signal[T]) disconnect(l *listener[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.connected = false
	for i, ll := range s.listeners {
		if ll == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Emit calls all the connected listeners with v. Listeners connected while
// emitting don't receive the value, listeners disconnected while emitting
// don't receive it either.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	listeners := make([]*listener[T], len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.mu.Lock()
		connected := l.connected
		s.mu.Unlock()
		if !connected {
			continue
		}
		l.fn(v)
	}
}

// Len returns the number of connected listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Group collects handles so they can be disconnected at once.
type Group struct {
	mu      sync.Mutex
	handles []Handle
}

// Add adds handles to the group.
func (g *Group) Add(hs ...Handle) {
	g.mu.Lock()
	g.handles = append(g.handles, hs...)
	g.mu.Unlock()
}

// Disconnect disconnects all the handles of the group and empties it.
func (g *Group) Disconnect() {
	g.mu.Lock()
	hs := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range hs {
		h.Disconnect()
	}
}
