// Package upload defers an artifact upload until a request-scoped unit of
// work can run it, and runs it at most once.
package upload

import (
	"context"
	"sync"
)

// Func performs the deferred upload with the caller's context.
type Func func(ctx context.Context) error

// Gate holds at most one pending upload.
//
// The zero value is ready to use.
type Gate struct {
	mu      sync.Mutex
	pending Func
	done    bool
}

// Defer stores fn as the pending upload. It replaces any upload not yet
// triggered.
func (g *Gate) Defer(fn Func) {
	g.mu.Lock()
	g.pending = fn
	g.done = false
	g.mu.Unlock()
}

// Pending reports whether an upload is waiting for a trigger.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Ran reports whether a deferred upload has been handed to a trigger.
func (g *Gate) Ran() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Trigger runs the pending upload, if any, and clears it. The closure is
// taken under the lock so concurrent triggers run it once. Only the caller
// that ran it sees its error; every other call returns nil.
func (g *Gate) Trigger(ctx context.Context) error {
	g.mu.Lock()
	fn := g.pending
	g.pending = nil
	if fn != nil {
		g.done = true
	}
	g.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}
