// Package registry holds the in-memory state of every tracked resource and
// applies state transitions to it.
package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/goodtune/tabtime/internal/identity"
)

// Registry maps resource ids to their current state. All methods are safe
// for concurrent use and complete atomically.
type Registry struct {
	mu     sync.Mutex
	states map[ResourceID]*ResourceState
	policy ExclusionPolicy
}

// New creates an empty registry filtering resources through policy.
func New(policy ExclusionPolicy) *Registry {
	return &Registry{
		states: make(map[ResourceID]*ResourceState),
		policy: policy,
	}
}

// resolve parses rawURL and applies the exclusion policy.
func (r *Registry) resolve(rawURL string) (identity.Key, bool) {
	key, err := identity.Parse(rawURL)
	if err != nil {
		return identity.Key{}, false
	}
	if r.policy != nil && r.policy.Excludes(key) {
		return identity.Key{}, false
	}
	return key, true
}

// Upsert records a full observation of a resource. An untracked resource is
// inserted with StateStartTime and FirstSeenAt set to now. A tracked one is
// transitioned to the observed fields; when that ends its current state the
// previous state is returned for accounting.
func (r *Registry) Upsert(id ResourceID, obs Observed, now time.Time) (ResourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[id]; ok {
		return r.transition(id, obs.Full(), now)
	}

	key, ok := r.resolve(obs.URL)
	if !ok {
		return ResourceState{}, false
	}

	r.states[id] = &ResourceState{
		ID:             id,
		URL:            obs.URL,
		Key:            key,
		Title:          obs.Title,
		ContainerID:    obs.ContainerID,
		Active:         obs.Active,
		Focused:        obs.Focused,
		Idle:           obs.Idle,
		StateStartTime: now,
		FirstSeenAt:    now,
	}
	return ResourceState{}, false
}

// Transition applies upd and returns the state as it was immediately
// before. It returns false when id is untracked or when upd changes nothing
// observable.
//
// A URL whose key differs from the current one replaces the state with a
// fresh one. A URL the policy excludes removes the resource; the final state
// is still returned.
func (r *Registry) Transition(id ResourceID, upd Update, now time.Time) (ResourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transition(id, upd, now)
}

func (r *Registry) transition(id ResourceID, upd Update, now time.Time) (ResourceState, bool) {
	st, ok := r.states[id]
	if !ok {
		return ResourceState{}, false
	}
	prev := *st

	// StateStartTime never moves backwards.
	if now.Before(st.StateStartTime) {
		now = st.StateStartTime
	}

	if upd.URL != nil && *upd.URL != st.URL {
		key, ok := r.resolve(*upd.URL)
		if !ok {
			delete(r.states, id)
			return prev, true
		}
		if key != st.Key {
			next := &ResourceState{
				ID:             id,
				URL:            *upd.URL,
				Key:            key,
				ContainerID:    st.ContainerID,
				Active:         st.Active,
				Focused:        st.Focused,
				Idle:           st.Idle,
				StateStartTime: now,
				FirstSeenAt:    now,
			}
			applyFlags(next, upd)
			if upd.Title != nil {
				next.Title = *upd.Title
			}
			r.states[id] = next
			return prev, true
		}
		// Same key, different query or fragment.
		st.URL = *upd.URL
	}

	if upd.ContainerID != nil {
		st.ContainerID = *upd.ContainerID
	}

	if !meaningful(st, upd) {
		return ResourceState{}, false
	}

	applyFlags(st, upd)
	if upd.Title != nil {
		st.Title = *upd.Title
	}
	st.StateStartTime = now
	return prev, true
}

func applyFlags(st *ResourceState, upd Update) {
	if upd.ContainerID != nil {
		st.ContainerID = *upd.ContainerID
	}
	if upd.Active != nil {
		st.Active = *upd.Active
	}
	if upd.Focused != nil {
		st.Focused = *upd.Focused
	}
	if upd.Idle != nil {
		st.Idle = *upd.Idle
	}
}

func meaningful(st *ResourceState, upd Update) bool {
	return (upd.Active != nil && *upd.Active != st.Active) ||
		(upd.Focused != nil && *upd.Focused != st.Focused) ||
		(upd.Idle != nil && *upd.Idle != st.Idle) ||
		(upd.Title != nil && *upd.Title != st.Title)
}

// Remove deletes a resource and returns its final state.
func (r *Registry) Remove(id ResourceID) (ResourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return ResourceState{}, false
	}
	delete(r.states, id)
	return *st, true
}

// RemoveExcluded deletes every resource the policy now excludes and
// returns their final states ordered by id.
func (r *Registry) RemoveExcluded() []ResourceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == nil {
		return nil
	}

	var removed []ResourceState
	for id, st := range r.states {
		if !r.policy.Excludes(st.Key) {
			continue
		}
		removed = append(removed, *st)
		delete(r.states, id)
	}
	slices.SortFunc(removed, func(a, b ResourceState) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return removed
}

// Get returns a copy of a resource's current state.
func (r *Registry) Get(id ResourceID) (ResourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return ResourceState{}, false
	}
	return *st, true
}

// SnapshotAll returns a point-in-time copy of every state ordered by id.
func (r *Registry) SnapshotAll() []ResourceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ResourceState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b ResourceState) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// FindActiveInContainer returns the resource marked active in container.
// If several are, the lowest id wins.
func (r *Registry) FindActiveInContainer(container ContainerID) (ResourceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		found ResourceID
		ok    bool
	)
	for id, st := range r.states {
		if st.ContainerID != container || !st.Active {
			continue
		}
		if !ok || id < found {
			found, ok = id, true
		}
	}
	return found, ok
}

// Len returns the number of tracked resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// ResetClocks restarts every state at now. With newPeriod set FirstSeenAt
// is reset too, starting a fresh accounting period.
func (r *Registry) ResetClocks(now time.Time, newPeriod bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range r.states {
		if now.After(st.StateStartTime) {
			st.StateStartTime = now
		}
		if newPeriod {
			st.FirstSeenAt = st.StateStartTime
		}
	}
}
