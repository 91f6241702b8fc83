package boss

import (
	"sync"

	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module"
	"github.com/slok/taskvisor/internal/signal"
)

// ModuleObserver tracks the availability of a module on the bus and gives
// access to it.
type ModuleObserver struct {
	module model.Module
	client *module.Client

	mu        sync.Mutex
	available bool
	watch     signal.Handle
}

// Module returns the observed module.
func (o *ModuleObserver) Module() model.Module { return o.module }

// Service returns the service name of the observed module.
func (o *ModuleObserver) Service() string { return o.module.Service }

// Client returns the client of the module.
func (o *ModuleObserver) Client() *module.Client { return o.client }

// Available returns true if the module is on the bus.
func (o *ModuleObserver) Available() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.available
}

// Status returns the observed status of the module.
func (o *ModuleObserver) Status() model.ModuleStatus {
	return model.ModuleStatus{Module: o.module, Available: o.Available()}
}

// setAvailable returns true if the availability changed.
func (o *ModuleObserver) setAvailable(available bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	changed := o.available != available
	o.available = available
	return changed
}

func (o *ModuleObserver) setWatch(h signal.Handle) {
	o.mu.Lock()
	old := o.watch
	o.watch = h
	o.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
}

func (o *ModuleObserver) release() {
	o.mu.Lock()
	h := o.watch
	o.watch = nil
	o.available = false
	o.mu.Unlock()

	if h != nil {
		h.Disconnect()
	}
}
