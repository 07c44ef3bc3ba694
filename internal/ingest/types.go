package ingest

import (
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/storage"
)

// Event types accepted by POST /api/v1/events.
const (
	EventCreated      = "created"
	EventUpdated      = "updated"
	EventActivated    = "activated"
	EventRemoved      = "removed"
	EventFocusChanged = "focus_changed"
	EventIdleChanged  = "idle_changed"
)

// Event is one host notification.
type Event struct {
	Type        string                `json:"type"`
	ResourceID  registry.ResourceID   `json:"resource_id"`
	ContainerID *registry.ContainerID `json:"container_id,omitempty"`
	URL         *string               `json:"url,omitempty"`
	Title       *string               `json:"title,omitempty"`
	Active      *bool                 `json:"active,omitempty"`
	Idle        *bool                 `json:"idle,omitempty"`
}

func (e Event) validate() error {
	switch e.Type {
	case EventCreated:
		if e.URL == nil {
			return fmt.Errorf("%s event requires url", e.Type)
		}
	case EventActivated:
		if e.ContainerID == nil {
			return fmt.Errorf("%s event requires container_id", e.Type)
		}
	case EventIdleChanged:
		if e.Idle == nil {
			return fmt.Errorf("%s event requires idle", e.Type)
		}
	case EventUpdated, EventRemoved, EventFocusChanged:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// EventsRequest is the body of POST /api/v1/events.
type EventsRequest struct {
	Events []Event `json:"events"`
}

// BootstrapRequest is the body of POST /api/v1/bootstrap.
type BootstrapRequest struct {
	Resources        []BootstrapResource   `json:"resources"`
	FocusedContainer *registry.ContainerID `json:"focused_container,omitempty"`
}

// BootstrapResource describes a resource that already exists.
type BootstrapResource struct {
	ResourceID  registry.ResourceID  `json:"resource_id"`
	ContainerID registry.ContainerID `json:"container_id"`
	URL         string               `json:"url"`
	Title       string               `json:"title"`
	Active      bool                 `json:"active"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Start      string              `json:"start"`
	End        string              `json:"end"`
	Data       storage.TrackedData `json:"data"`
	FlushError string              `json:"flush_error,omitempty"`
}

// ResourceView is one entry of GET /api/v1/resources.
type ResourceView struct {
	ResourceID     registry.ResourceID  `json:"resource_id"`
	ContainerID    registry.ContainerID `json:"container_id"`
	URL            string               `json:"url"`
	Hostname       string               `json:"hostname"`
	ResourceKey    string               `json:"resource_key"`
	Title          string               `json:"title"`
	Active         bool                 `json:"active"`
	Focused        bool                 `json:"focused"`
	Idle           bool                 `json:"idle"`
	StateStartTime time.Time            `json:"state_start_time"`
	FirstSeenAt    time.Time            `json:"first_seen_at"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
