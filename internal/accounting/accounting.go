// Package accounting turns ended resource states into time deltas.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/registry"
)

var (
	// ErrMalformedState means the ended state has no URL or hostname.
	ErrMalformedState = errors.New("malformed state")
	// ErrClockRegression means the end time precedes the state's start.
	ErrClockRegression = errors.New("clock regression")
	// ErrEmptyInterval means the state lasted no time at all.
	ErrEmptyInterval = errors.New("empty interval")
)

// Mode selects how finely time is classified.
type Mode string

const (
	// ModeDetailed splits active time by focus and idleness.
	ModeDetailed Mode = "detailed"
	// ModeActiveOnly only accumulates time while a resource is active.
	ModeActiveOnly Mode = "active_only"
)

// Category is the activity class a span of time is attributed to.
type Category string

const (
	CategoryInactive        Category = "inactive"
	CategoryIdle            Category = "idle"
	CategoryActiveUnfocused Category = "active_unfocused"
	CategoryActiveFocused   Category = "active_focused"
	CategoryActive          Category = "active"
)

// Active reports whether time in c counts towards a page's active time.
func (c Category) Active() bool {
	switch c {
	case CategoryActive, CategoryActiveFocused, CategoryActiveUnfocused:
		return true
	}
	return false
}

// Delta is the time attributable to one ended state.
type Delta struct {
	Day         string
	Hostname    string
	ResourceKey string
	Category    Category

	// Duration is the accounted time. Discarded is the part of the
	// interval deliberately not accounted; the two always sum to the
	// state's elapsed time.
	Duration  time.Duration
	Discarded time.Duration

	LastSeenAt  time.Time
	FirstSeenAt time.Time
	Title       string
}

// Options controls Compute.
type Options struct {
	Mode Mode
	// MinActiveDuration discards active spans shorter than it.
	MinActiveDuration time.Duration
	// Location buckets deltas into days. Nil uses the end time's location.
	Location *time.Location
}

// Classify returns the category time spent in st belongs to.
func Classify(st registry.ResourceState, mode Mode) Category {
	if mode == ModeActiveOnly {
		if st.Active {
			return CategoryActive
		}
		return CategoryInactive
	}

	switch {
	case !st.Active:
		return CategoryInactive
	case st.Idle:
		return CategoryIdle
	case !st.Focused:
		return CategoryActiveUnfocused
	default:
		return CategoryActiveFocused
	}
}

// Compute derives the delta for prev having ended at end. It has no side
// effects. The delta always carries LastSeenAt and Title, even when no
// duration is accounted.
func Compute(prev registry.ResourceState, end time.Time, opts Options) (Delta, error) {
	if prev.URL == "" || prev.GroupKey() == "" {
		return Delta{}, fmt.Errorf("resource %d: %w", prev.ID, ErrMalformedState)
	}
	if end.Before(prev.StateStartTime) {
		return Delta{}, fmt.Errorf("resource %d ended %s before it started: %w",
			prev.ID, prev.StateStartTime.Sub(end), ErrClockRegression)
	}

	elapsed := end.Sub(prev.StateStartTime)
	if elapsed <= 0 {
		return Delta{}, fmt.Errorf("resource %d: %w", prev.ID, ErrEmptyInterval)
	}

	category := Classify(prev, opts.Mode)
	delta := Delta{
		Day:         identity.Day(end, opts.Location),
		Hostname:    prev.GroupKey(),
		ResourceKey: prev.ResourceKey(),
		Category:    category,
		Duration:    elapsed,
		LastSeenAt:  end,
		FirstSeenAt: prev.FirstSeenAt,
		Title:       prev.Title,
	}

	switch {
	case opts.Mode == ModeActiveOnly && !category.Active():
		delta.Duration, delta.Discarded = 0, elapsed
	case category.Active() && elapsed < opts.MinActiveDuration:
		delta.Duration, delta.Discarded = 0, elapsed
	}

	return delta, nil
}
