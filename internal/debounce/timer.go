// Package debounce coalesces bursts of work per key behind cancellable
// timers.
package debounce

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Timer owns at most one scheduled callback. Resetting or cancelling it
// guarantees the superseded callback never runs, even if its underlying
// timer already fired.
type Timer struct {
	clock quartz.Clock
	tags  []string

	mu    sync.Mutex
	gen   uint64
	timer *quartz.Timer
}

// NewTimer creates an idle timer. Tags label the underlying clock calls so
// tests can trap them.
func NewTimer(clock quartz.Clock, tags ...string) *Timer {
	return &Timer{clock: clock, tags: tags}
}

// Reset schedules f to run after d, replacing any pending callback.
func (t *Timer) Reset(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		f()
	}, t.tags...)
}

// Cancel drops the pending callback. It reports whether one was pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

// Pending reports whether a callback is scheduled.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
