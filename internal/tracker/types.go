package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/storage"
)

// ErrResourceGone is returned by a Source when the resource no longer
// exists.
var ErrResourceGone = errors.New("resource gone")

// ErrInvalidRange is returned when a report's day bounds do not parse.
var ErrInvalidRange = errors.New("invalid day range")

// ResourceInfo is the host's full view of a resource.
type ResourceInfo struct {
	ID          registry.ResourceID   `json:"resource_id"`
	ContainerID registry.ContainerID `json:"container_id"`
	URL         string               `json:"url"`
	Title       string               `json:"title"`
	Active      bool                 `json:"active"`
}

// Change carries the fields of an updated event. Nil fields did not
// change.
type Change struct {
	URL   *string
	Title *string
}

func (c Change) update() registry.Update {
	return registry.Update{URL: c.URL, Title: c.Title}
}

// Source answers "current truth" queries for resources the tracker does
// not know about.
type Source interface {
	Lookup(ctx context.Context, id registry.ResourceID) (ResourceInfo, error)
}

// Report is the result of a range query.
type Report struct {
	Start string
	End   string
	Data  storage.TrackedData
	// FlushError is set when the most recent flush failed. The data is
	// still the best the store can offer.
	FlushError error
}

type pendingUpdate struct {
	upd registry.Update
	at  time.Time
}
