// Package aggregate batches accounting deltas in memory and flushes them to
// the durable store behind a single debounced timer.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/tabtime/internal/accounting"
	"github.com/goodtune/tabtime/internal/debounce"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultFlushInterval is the quiet period before pending deltas are
// written.
const DefaultFlushInterval = 2 * time.Second

const timerFlushTimeout = 30 * time.Second

// Status is the outcome of recent flushes. A non-nil LastError is a
// best-effort indicator for reporting surfaces, not a failure.
type Status struct {
	LastFlushAt time.Time
	LastError   error
	LastErrorAt time.Time
}

// Aggregator accumulates deltas and persists them.
type Aggregator struct {
	store    storage.TrackedStore
	clock    quartz.Clock
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[Key]*Pending
	timer   *debounce.Timer
	status  Status
	closed  bool

	// flushMu serialises read-merge-write cycles against each other and
	// against ClearAll.
	flushMu sync.Mutex
}

// New creates an Aggregator writing to store. A zero interval uses
// DefaultFlushInterval.
func New(store storage.TrackedStore, clock quartz.Clock, interval time.Duration, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Aggregator{
		store:    store,
		clock:    clock,
		interval: interval,
		logger:   logger.With().Str("component", "aggregate").Logger(),
		pending:  make(map[Key]*Pending),
		timer:    debounce.NewTimer(clock, "aggregate", "flush"),
	}
}

// Record merges p into the pending aggregate for key and restarts the
// global flush timer.
func (a *Aggregator) Record(key Key, p Pending) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.pending[key]; ok {
		cur.merge(p)
	} else {
		fresh := p.clone()
		a.pending[key] = &fresh
	}

	if !a.closed {
		a.timer.Reset(a.interval, a.flushFromTimer)
	}
}

// Add records an accounting delta.
func (a *Aggregator) Add(d accounting.Delta) {
	a.Record(Key{Day: d.Day, Hostname: d.Hostname, ResourceKey: d.ResourceKey}, FromDelta(d))
}

func (a *Aggregator) flushFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), timerFlushTimeout)
	defer cancel()
	_ = a.Flush(ctx)
}

// Flush swaps the pending map for an empty one and merges every entry
// into the store. On failure the batch is logged and dropped, never
// re-queued.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = make(map[Key]*Pending)
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := a.clock.Now()
	err := a.write(ctx, batch, start)
	metrics.FlushDuration.Observe(a.clock.Since(start).Seconds())

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.status.LastError = err
		a.status.LastErrorAt = start
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		a.logger.Error().Err(err).Int("entries", len(batch)).Msg("Flush failed, dropping batch")
		return err
	}

	a.status.LastFlushAt = start
	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	a.logger.Debug().Int("entries", len(batch)).Msg("Flushed pending aggregates")
	return nil
}

func (a *Aggregator) write(ctx context.Context, batch map[Key]*Pending, now time.Time) error {
	seen := make(map[string]struct{})
	days := make([]string, 0)
	for key := range batch {
		if _, ok := seen[key.Day]; !ok {
			seen[key.Day] = struct{}{}
			days = append(days, key.Day)
		}
	}

	existing, err := a.store.GetDays(ctx, days...)
	if err != nil {
		return fmt.Errorf("read persisted records: %w", err)
	}

	out := make(storage.TrackedData)
	for key, p := range batch {
		cur, _ := existing.Page(key.Day, key.Hostname, key.ResourceKey)
		out.Put(key.Day, key.Hostname, key.ResourceKey, cur.Merge(p.page(now)))
	}

	if err := a.store.Set(ctx, out); err != nil {
		return fmt.Errorf("write persisted records: %w", err)
	}
	return nil
}

// ForceFlush cancels the pending timer and flushes immediately.
func (a *Aggregator) ForceFlush(ctx context.Context) error {
	a.timer.Cancel()
	return a.Flush(ctx)
}

// ClearAll discards pending deltas and erases every persisted record.
func (a *Aggregator) ClearAll(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	a.timer.Cancel()
	dropped := len(a.pending)
	a.pending = make(map[Key]*Pending)
	a.mu.Unlock()

	if err := a.store.Clear(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to clear store")
		return fmt.Errorf("clear store: %w", err)
	}

	a.logger.Info().Int("pending_dropped", dropped).Msg("Cleared all tracked data")
	return nil
}

// PendingLen returns the number of keys awaiting a flush.
func (a *Aggregator) PendingLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Status returns the outcome of recent flushes.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Close stops the flush timer. Pending deltas stay in memory until an
// explicit Flush.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.timer.Cancel()
}
