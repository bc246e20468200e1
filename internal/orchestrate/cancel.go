package orchestrate

import (
	"context"
	"sync"
)

type callHandle struct {
	cancel context.CancelFunc
}

// CallRegistry enforces one in-flight orchestration call per session. A
// new call for a session cancels its predecessor before starting, which
// matches the stop-and-resend behavior of chat clients.
type CallRegistry struct {
	mu     sync.Mutex
	active map[string]*callHandle
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{active: map[string]*callHandle{}}
}

// Begin registers a call for the session, cancelling any call already in
// flight. The returned release func must be called when the call ends.
func (r *CallRegistry) Begin(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	handle := &callHandle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[sessionID]; ok {
		prev.cancel()
	}
	r.active[sessionID] = handle
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		// Deregister only if this call is still the active one; a newer
		// call may already have replaced it.
		if current, ok := r.active[sessionID]; ok && current == handle {
			delete(r.active, sessionID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel stops the in-flight call for a session, if any.
func (r *CallRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.active[sessionID]
	if !ok {
		return false
	}
	handle.cancel()
	delete(r.active, sessionID)
	return true
}

// InFlight reports whether the session has an active call.
func (r *CallRegistry) InFlight(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}
