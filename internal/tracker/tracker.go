// Package tracker connects host resource events to the registry, the
// accounting engine and the aggregator.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/tabtime/internal/accounting"
	"github.com/goodtune/tabtime/internal/aggregate"
	"github.com/goodtune/tabtime/internal/debounce"
	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultDebounceWindow is how long updates for one resource settle before
// they are applied.
const DefaultDebounceWindow = 100 * time.Millisecond

// Config wires a Tracker to its collaborators.
type Config struct {
	Registry   *registry.Registry
	Engine     *accounting.Engine
	Aggregator *aggregate.Aggregator
	Store      storage.TrackedStore
	Source     Source
	Clock      quartz.Clock

	DebounceWindow time.Duration
	// SafetyInterval periodically accounts open states and flushes.
	// Zero disables it.
	SafetyInterval time.Duration
	// Location buckets report days. Nil uses the clock's location.
	Location *time.Location

	Logger zerolog.Logger
}

// Tracker is the lifecycle controller. Event handlers are serialised: each
// completes its registry and accounting work before the next starts.
type Tracker struct {
	registry  *registry.Registry
	engine    *accounting.Engine
	agg       *aggregate.Aggregator
	store     storage.TrackedStore
	source    Source
	clock     quartz.Clock
	debouncer *debounce.Debouncer[registry.ResourceID, pendingUpdate]
	safety    time.Duration
	loc       *time.Location
	logger    zerolog.Logger

	mu         sync.Mutex
	focusKnown bool
	hasFocus   bool
	focused    registry.ContainerID
	idle       bool
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}

	t := &Tracker{
		registry: cfg.Registry,
		engine:   cfg.Engine,
		agg:      cfg.Aggregator,
		store:    cfg.Store,
		source:   cfg.Source,
		clock:    cfg.Clock,
		safety:   cfg.SafetyInterval,
		loc:      cfg.Location,
		logger:   cfg.Logger.With().Str("component", "tracker").Logger(),
	}
	t.debouncer = debounce.New(cfg.Clock, cfg.DebounceWindow, t.applyDebounced)
	return t
}

// Start runs the periodic safety checkpoint until ctx is done.
func (t *Tracker) Start(ctx context.Context) {
	if t.safety <= 0 {
		return
	}
	t.logger.Info().Dur("interval", t.safety).Msg("Starting safety checkpoints")
	t.clock.TickerFunc(ctx, t.safety, func() error {
		if err := t.Checkpoint(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("Safety checkpoint failed")
		}
		return nil
	}, "tracker", "safety")
}

// account feeds the delta for prev ending at end into the aggregator.
func (t *Tracker) account(prev registry.ResourceState, end time.Time) {
	if delta, ok := t.engine.AccountPrevious(prev, end); ok {
		t.agg.Add(delta)
	}
}

// transition applies upd to id and accounts the state it ended.
func (t *Tracker) transition(id registry.ResourceID, upd registry.Update, now time.Time) bool {
	prev, ok := t.registry.Transition(id, upd, now)
	if !ok {
		return false
	}

	end := now
	if end.Before(prev.StateStartTime) {
		// The registry clamped the transition to the previous start.
		end = prev.StateStartTime
	}
	t.account(prev, end)

	kind := "update"
	if cur, tracked := t.registry.Get(id); !tracked {
		kind = "exclude"
	} else if cur.Key != prev.Key {
		kind = "replace"
	}
	metrics.TransitionsTotal.WithLabelValues(kind).Inc()

	t.logger.Debug().
		Int64("resource_id", int64(id)).
		Str("kind", kind).
		Str("key", prev.Key.String()).
		Msg("Transition applied")
	return true
}

// focusFor reports whether a resource in container has focus. Focus is
// assumed until the host reports otherwise.
func (t *Tracker) focusFor(container registry.ContainerID) bool {
	return !t.focusKnown || (t.hasFocus && t.focused == container)
}

func (t *Tracker) observed(info ResourceInfo) registry.Observed {
	return registry.Observed{
		URL:         info.URL,
		Title:       info.Title,
		ContainerID: info.ContainerID,
		Active:      info.Active,
		Focused:     t.focusFor(info.ContainerID),
		Idle:        t.idle,
	}
}

// upsert records info, deactivating any other active resource in its
// container first.
func (t *Tracker) upsert(info ResourceInfo, now time.Time) {
	if info.Active {
		t.deactivateOthers(info.ContainerID, info.ID, now)
	}

	prev, ended := t.registry.Upsert(info.ID, t.observed(info), now)
	if ended {
		t.account(prev, now)
	}
	metrics.TrackedResources.Set(float64(t.registry.Len()))
}

func (t *Tracker) deactivateOthers(container registry.ContainerID, except registry.ResourceID, now time.Time) {
	if id, ok := t.registry.FindActiveInContainer(container); ok && id != except {
		t.transition(id, registry.Update{Active: registry.Ptr(false)}, now)
	}
}

// HandleCreated tracks a new resource.
func (t *Tracker) HandleCreated(info ResourceInfo) {
	metrics.EventsTotal.WithLabelValues("created").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.upsert(info, t.clock.Now())
}

// HandleUpdated schedules a debounced update. Updates for untracked
// resources are resolved through the Source immediately.
func (t *Tracker) HandleUpdated(ctx context.Context, id registry.ResourceID, change Change) {
	metrics.EventsTotal.WithLabelValues("updated").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if _, ok := t.registry.Get(id); !ok {
		t.resolve(ctx, id, now)
		return
	}

	if t.debouncer.Schedule(id, pendingUpdate{upd: change.update(), at: now}) {
		metrics.DebounceCoalesced.Inc()
	}
}

// resolve looks up an untracked resource and tracks it. A vanished
// resource is treated as removed.
func (t *Tracker) resolve(ctx context.Context, id registry.ResourceID, now time.Time) bool {
	if t.source == nil {
		return false
	}

	info, err := t.source.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrResourceGone) {
			t.logger.Debug().Int64("resource_id", int64(id)).Msg("Resource vanished before lookup")
			t.remove(id, now)
		} else {
			t.logger.Warn().Err(err).Int64("resource_id", int64(id)).Msg("Resource lookup failed")
		}
		return false
	}

	info.ID = id
	t.upsert(info, now)
	return true
}

func (t *Tracker) applyDebounced(id registry.ResourceID, pu pendingUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.registry.Get(id); !ok {
		t.logger.Debug().Int64("resource_id", int64(id)).Msg("Dropping update for untracked resource")
		return
	}
	t.transition(id, pu.upd, pu.at)
	metrics.TrackedResources.Set(float64(t.registry.Len()))
}

// HandleActivated marks id as the active resource of container.
func (t *Tracker) HandleActivated(ctx context.Context, id registry.ResourceID, container registry.ContainerID) {
	metrics.EventsTotal.WithLabelValues("activated").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.deactivateOthers(container, id, now)

	if _, ok := t.registry.Get(id); ok {
		t.transition(id, registry.Update{
			ContainerID: registry.Ptr(container),
			Active:      registry.Ptr(true),
			Focused:     registry.Ptr(t.focusFor(container)),
		}, now)
		return
	}

	if t.resolve(ctx, id, now) {
		// The source may lag behind the activation itself.
		t.transition(id, registry.Update{
			ContainerID: registry.Ptr(container),
			Active:      registry.Ptr(true),
		}, now)
	}
}

// HandleRemoved stops tracking id and accounts its final state.
func (t *Tracker) HandleRemoved(id registry.ResourceID) {
	metrics.EventsTotal.WithLabelValues("removed").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.remove(id, t.clock.Now())
}

func (t *Tracker) remove(id registry.ResourceID, now time.Time) {
	t.debouncer.Cancel(id)

	prev, ok := t.registry.Remove(id)
	if !ok {
		return
	}
	if now.Before(prev.StateStartTime) {
		now = prev.StateStartTime
	}
	t.account(prev, now)
	metrics.TransitionsTotal.WithLabelValues("remove").Inc()
	metrics.TrackedResources.Set(float64(t.registry.Len()))
}

// RecheckExclusions stops tracking resources the policy now excludes,
// accounting their final state up to now. It returns how many were dropped.
func (t *Tracker) RecheckExclusions() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := t.registry.RemoveExcluded()
	for _, prev := range removed {
		t.debouncer.Cancel(prev.ID)
		end := now
		if end.Before(prev.StateStartTime) {
			end = prev.StateStartTime
		}
		t.account(prev, end)
		metrics.TransitionsTotal.WithLabelValues("exclude").Inc()
	}
	metrics.TrackedResources.Set(float64(t.registry.Len()))
	return len(removed)
}

// HandleFocusChanged records which container has focus. ok is false when
// no container does.
func (t *Tracker) HandleFocusChanged(container registry.ContainerID, ok bool) {
	metrics.EventsTotal.WithLabelValues("focus_changed").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.focusKnown, t.hasFocus, t.focused = true, ok, container
	if t.engine.Mode() == accounting.ModeActiveOnly {
		return
	}

	now := t.clock.Now()
	for _, st := range t.registry.SnapshotAll() {
		t.transition(st.ID, registry.Update{Focused: registry.Ptr(t.focusFor(st.ContainerID))}, now)
	}
}

// HandleIdleChanged records whether the user is idle.
func (t *Tracker) HandleIdleChanged(idle bool) {
	metrics.EventsTotal.WithLabelValues("idle_changed").Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.idle = idle
	if t.engine.Mode() == accounting.ModeActiveOnly {
		return
	}

	now := t.clock.Now()
	for _, st := range t.registry.SnapshotAll() {
		t.transition(st.ID, registry.Update{Idle: registry.Ptr(idle)}, now)
	}
}

// Bootstrap seeds the registry with resources that already exist.
func (t *Tracker) Bootstrap(infos []ResourceInfo, focused registry.ContainerID, hasFocus bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.focusKnown, t.hasFocus, t.focused = true, hasFocus, focused

	now := t.clock.Now()
	for _, info := range infos {
		t.upsert(info, now)
	}
	t.logger.Info().Int("resources", t.registry.Len()).Msg("Bootstrapped resources")
}

// accountOpen accounts every open state at now and restarts their clocks.
func (t *Tracker) accountOpen(now time.Time) int {
	snapshot := t.registry.SnapshotAll()
	for _, st := range snapshot {
		t.account(st, now)
	}
	t.registry.ResetClocks(now, false)
	return len(snapshot)
}

// Checkpoint accounts every open state up to now and flushes, bounding
// what an abrupt termination can lose.
func (t *Tracker) Checkpoint(ctx context.Context) error {
	t.mu.Lock()
	n := t.accountOpen(t.clock.Now())
	t.mu.Unlock()

	t.logger.Debug().Int("resources", n).Msg("Checkpoint")
	return t.agg.ForceFlush(ctx)
}

// Shutdown cancels pending updates, accounts every open state as ending
// now and flushes. It is best-effort: a flush error is returned but
// earlier flushes stay durable.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.debouncer.Stop()

	t.mu.Lock()
	n := t.accountOpen(t.clock.Now())
	t.mu.Unlock()

	err := t.agg.ForceFlush(ctx)
	t.agg.Close()

	t.logger.Info().Int("resources", n).Err(err).Msg("Tracker shut down")
	return err
}

// AggregateForRange flushes pending deltas and returns persisted records
// for days in [start, end]. Empty strings default to today.
func (t *Tracker) AggregateForRange(ctx context.Context, start, end string) (Report, error) {
	today := identity.Day(t.clock.Now(), t.loc)
	if start == "" {
		start = today
	}
	if end == "" {
		end = start
	}
	start, end, err := identity.DayRange(start, end)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}

	report := Report{Start: start, End: end, Data: make(storage.TrackedData)}
	if err := t.agg.ForceFlush(ctx); err != nil {
		report.FlushError = err
	} else if status := t.agg.Status(); status.LastError != nil && status.LastErrorAt.After(status.LastFlushAt) {
		report.FlushError = status.LastError
	}

	days, err := t.store.Days(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list days: %w", err)
	}

	wanted := make([]string, 0, len(days))
	for _, day := range days {
		if identity.InRange(day, start, end) {
			wanted = append(wanted, day)
		}
	}
	if len(wanted) == 0 {
		return report, nil
	}

	data, err := t.store.GetDays(ctx, wanted...)
	if err != nil {
		return Report{}, fmt.Errorf("read days: %w", err)
	}
	report.Data = data
	return report, nil
}

// RequestClear erases all tracked data and starts a fresh accounting
// period for open resources.
func (t *Tracker) RequestClear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.agg.ClearAll(ctx); err != nil {
		return err
	}
	t.registry.ResetClocks(t.clock.Now(), true)
	return nil
}

// Snapshot returns the current state of every tracked resource.
func (t *Tracker) Snapshot() []registry.ResourceState {
	return t.registry.SnapshotAll()
}
