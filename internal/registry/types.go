package registry

import (
	"time"

	"github.com/goodtune/tabtime/internal/identity"
)

// ResourceID identifies one resource instance (a browser tab). Ids are
// never reused after removal.
type ResourceID int64

// ContainerID identifies a group of resources of which at most one is
// active (a browser window).
type ContainerID int64

// ResourceState is the current activity state of a tracked resource. It is
// a plain value: copies never alias registry internals.
type ResourceState struct {
	ID          ResourceID
	URL         string
	Key         identity.Key
	Title       string
	ContainerID ContainerID
	Active      bool
	Focused     bool
	Idle        bool

	// StateStartTime is when the current combination of fields began.
	StateStartTime time.Time
	// FirstSeenAt is when the current key was first observed in the
	// current accounting period.
	FirstSeenAt time.Time
}

// GroupKey returns the hostname the resource is aggregated under.
func (s ResourceState) GroupKey() string { return s.Key.GroupKey() }

// ResourceKey returns the normalized resource identifier.
func (s ResourceState) ResourceKey() string { return s.Key.ResourceKey() }

// Observed is a full description of a resource as reported by the host.
type Observed struct {
	URL         string
	Title       string
	ContainerID ContainerID
	Active      bool
	Focused     bool
	Idle        bool
}

// Update is a partial state change. Nil fields are left unchanged.
type Update struct {
	URL         *string
	Title       *string
	ContainerID *ContainerID
	Active      *bool
	Focused     *bool
	Idle        *bool
}

// Full returns an Update that sets every field of o.
func (o Observed) Full() Update {
	return Update{
		URL:         &o.URL,
		Title:       &o.Title,
		ContainerID: &o.ContainerID,
		Active:      &o.Active,
		Focused:     &o.Focused,
		Idle:        &o.Idle,
	}
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T { return &v }

// ExclusionPolicy decides whether a resource key must not be tracked.
type ExclusionPolicy interface {
	Excludes(key identity.Key) bool
}
