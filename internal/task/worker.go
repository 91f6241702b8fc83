package task

import (
	"fmt"
	"reflect"
	"sync"
)

// workerCounters are the monotonic counters used to name the workers of each task class.
var workerCounters = struct {
	mu sync.Mutex
	c  map[string]int
}{c: map[string]int{}}

// nextWorkerName returns the next worker name of a class: `<class>-<n>`.
func nextWorkerName(class string) string {
	workerCounters.mu.Lock()
	defer workerCounters.mu.Unlock()

	workerCounters.c[class]++
	return fmt.Sprintf("%s-%d", class, workerCounters.c[class])
}

func className(r Runnable) string {
	if c, ok := r.(Classifier); ok && c.Class() != "" {
		return c.Class()
	}

	t := reflect.TypeOf(r)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Task"
	}
	return t.Name()
}
