package debounce

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

type entry[V any] struct {
	value V
	timer *Timer
}

// Debouncer delays work per key until no new value has been scheduled for
// the window. Only the latest value of a burst is delivered; earlier ones
// are discarded, not merged.
type Debouncer[K comparable, V any] struct {
	clock  quartz.Clock
	window time.Duration
	fire   func(K, V)

	mu      sync.Mutex
	pending map[K]*entry[V]
	stopped bool
}

// New creates a Debouncer calling fire once per settled key. fire runs on a
// timer goroutine without any Debouncer lock held.
func New[K comparable, V any](clock quartz.Clock, window time.Duration, fire func(K, V)) *Debouncer[K, V] {
	return &Debouncer[K, V]{
		clock:   clock,
		window:  window,
		fire:    fire,
		pending: make(map[K]*entry[V]),
	}
}

// Schedule records v as the latest value for k and restarts its window. It
// reports whether an earlier pending value was replaced.
func (d *Debouncer[K, V]) Schedule(k K, v V) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	e, replaced := d.pending[k]
	if !replaced {
		e = &entry[V]{timer: NewTimer(d.clock, "debounce")}
		d.pending[k] = e
	}
	e.value = v
	e.timer.Reset(d.window, func() { d.settle(k, e) })

	return replaced
}

func (d *Debouncer[K, V]) settle(k K, e *entry[V]) {
	d.mu.Lock()
	if d.pending[k] != e {
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	v := e.value
	d.mu.Unlock()

	d.fire(k, v)
}

// Cancel drops the pending value for k. It reports whether one existed.
func (d *Debouncer[K, V]) Cancel(k K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.pending[k]
	if !ok {
		return false
	}
	delete(d.pending, k)
	e.timer.Cancel()
	return true
}

// Stop cancels every pending value. Later calls to Schedule are ignored.
func (d *Debouncer[K, V]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for k, e := range d.pending {
		e.timer.Cancel()
		delete(d.pending, k)
	}
}

// Len returns the number of keys with a pending value.
func (d *Debouncer[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
