package aggregate

import (
	"maps"
	"time"

	"github.com/goodtune/tabtime/internal/accounting"
	"github.com/goodtune/tabtime/internal/storage"
)

// Key addresses one pending aggregate.
type Key struct {
	Day         string
	Hostname    string
	ResourceKey string
}

// Pending is the in-memory accumulation of deltas for one key.
type Pending struct {
	Active      time.Duration
	Breakdown   map[accounting.Category]time.Duration
	LastSeenAt  time.Time
	FirstSeenAt time.Time
	Title       string
}

// FromDelta converts an accounting delta into a pending contribution.
// Only active categories count towards Active; every category with
// accounted time lands in the breakdown.
func FromDelta(d accounting.Delta) Pending {
	p := Pending{
		LastSeenAt:  d.LastSeenAt,
		FirstSeenAt: d.FirstSeenAt,
		Title:       d.Title,
	}
	if d.Duration > 0 {
		if d.Category.Active() {
			p.Active = d.Duration
		}
		p.Breakdown = map[accounting.Category]time.Duration{d.Category: d.Duration}
	}
	return p
}

// merge sums durations, keeps the latest lastSeen, the earliest firstSeen
// and the latest non-empty title.
func (p *Pending) merge(in Pending) {
	p.Active += in.Active
	if len(in.Breakdown) > 0 {
		if p.Breakdown == nil {
			p.Breakdown = make(map[accounting.Category]time.Duration, len(in.Breakdown))
		}
		for category, d := range in.Breakdown {
			p.Breakdown[category] += d
		}
	}
	if in.LastSeenAt.After(p.LastSeenAt) {
		p.LastSeenAt = in.LastSeenAt
	}
	if p.FirstSeenAt.IsZero() || (!in.FirstSeenAt.IsZero() && in.FirstSeenAt.Before(p.FirstSeenAt)) {
		p.FirstSeenAt = in.FirstSeenAt
	}
	if in.Title != "" {
		p.Title = in.Title
	}
}

func (p Pending) clone() Pending {
	p.Breakdown = maps.Clone(p.Breakdown)
	return p
}

// page renders p as a persisted record stamped with now.
func (p Pending) page(now time.Time) storage.PageData {
	page := storage.PageData{
		ActiveMs:    p.Active.Milliseconds(),
		FirstSeen:   storage.MillisOf(p.FirstSeenAt),
		LastSeen:    storage.MillisOf(p.LastSeenAt),
		LastUpdated: storage.MillisOf(now),
		Title:       p.Title,
	}
	if len(p.Breakdown) > 0 {
		page.Breakdown = make(map[string]int64, len(p.Breakdown))
		for category, d := range p.Breakdown {
			page.Breakdown[string(category)] = d.Milliseconds()
		}
	}
	return page
}
