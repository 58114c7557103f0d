package run

import (
	"context"
	"sync"

	"github.com/ferrybot/ferry/pkg/sessions"
)

// Registry tracks the one running task allowed per conversation. Concurrent
// attempts are rejected, never queued.
type Registry struct {
	mu      sync.Mutex
	running map[sessions.Key]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[sessions.Key]context.CancelFunc)}
}

// TryAcquire registers a task for key, storing its cancel function. It
// returns false if a task is already running; check and registration are one
// atomic step.
func (r *Registry) TryAcquire(key sessions.Key, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.running[key]; held {
		return false
	}
	r.running[key] = cancel
	return true
}

// Release frees the slot for key. Callers must release exactly once per
// successful TryAcquire, on every exit path.
func (r *Registry) Release(key sessions.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, key)
}

// Cancel invokes the running task's cancel function, if any. The slot stays
// held until the task itself finishes and releases it.
func (r *Registry) Cancel(key sessions.Key) bool {
	r.mu.Lock()
	cancel, held := r.running[key]
	r.mu.Unlock()

	if !held {
		return false
	}
	cancel()
	return true
}

// Running reports whether a task is currently running for key.
func (r *Registry) Running(key sessions.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.running[key]
	return held
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
