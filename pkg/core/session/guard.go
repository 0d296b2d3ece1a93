package session

import (
	"sync"
	"time"
)

// idleGuard bounds how long a cancelled session may wait for in-flight
// operations to acknowledge cancellation.
//
// Cancellation is cooperative: network and tool operations observe their
// context at the next yield point. The guard is armed when teardown
// begins; if teardown does not finish inside the window, the onForced
// callback fires and the orchestrator returns to idle regardless of
// executor response, so the caller is never stuck.
type idleGuard struct {
	duration time.Duration

	mu       sync.Mutex
	active   bool
	start    time.Time
	timer    *time.Timer
	onForced func()
}

func newIdleGuard(duration time.Duration, onForced func()) *idleGuard {
	return &idleGuard{duration: duration, onForced: onForced}
}

// Arm starts (or restarts) the grace window.
func (g *idleGuard) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.active = true
	g.start = time.Now()
	g.timer = time.AfterFunc(g.duration, g.fire)
}

func (g *idleGuard) fire() {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.active = false
	callback := g.onForced
	g.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Disarm stops the window without firing the callback. Called when
// teardown completes inside the grace period.
func (g *idleGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.active = false
}

// IsActive reports whether the window is running.
func (g *idleGuard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// TimeRemaining returns how much of the window is left.
func (g *idleGuard) TimeRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return 0
	}
	remaining := g.duration - time.Since(g.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}
