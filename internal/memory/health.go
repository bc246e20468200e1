package memory

import (
	"sync"
	"time"
)

// healthGate tracks availability of the vector-store dependency. While
// unavailable, store operations short-circuit instead of hammering a
// dead backend. The gate is shared process-wide: a failure seen by one
// session's request informs every other session.
type healthGate struct {
	mu       sync.Mutex
	failures int
	retryAt  time.Time
	now      func() time.Time
}

func newHealthGate() *healthGate {
	return &healthGate{now: time.Now}
}

// available reports whether the dependency may be called right now.
func (g *healthGate) available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures == 0 || !g.now().Before(g.retryAt)
}

// markFailure pushes the retry deadline out exponentially, capped at 30s.
func (g *healthGate) markFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	backoff := time.Second << uint(g.failures)
	if backoff > 30*time.Second || backoff <= 0 {
		backoff = 30 * time.Second
	}
	g.failures++
	g.retryAt = g.now().Add(backoff)
}

// markSuccess returns the gate to healthy.
func (g *healthGate) markSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.retryAt = time.Time{}
}
