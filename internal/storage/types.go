package storage

import (
	"sort"
	"time"
)

// PageData is the persisted aggregate for one resource key. Timestamps are
// milliseconds since the Unix epoch.
type PageData struct {
	ActiveMs    int64            `json:"activeMs"`
	FirstSeen   int64            `json:"firstSeen"`
	LastSeen    int64            `json:"lastSeen"`
	LastUpdated int64            `json:"lastUpdated"`
	Title       string           `json:"title"`
	Breakdown   map[string]int64 `json:"breakdown,omitempty"`
}

// HostData maps resource keys to their page data.
type HostData map[string]PageData

// DayData maps hostnames to their pages.
type DayData map[string]HostData

// TrackedData is the full persisted root: day → hostname → resource key.
type TrackedData map[string]DayData

// Merge folds incoming into p: activeMs and the breakdown are summed, the
// earliest firstSeen and latest lastSeen win, lastUpdated is taken from
// incoming and a non-empty incoming title replaces the stored one.
func (p PageData) Merge(incoming PageData) PageData {
	out := PageData{
		ActiveMs:    p.ActiveMs + incoming.ActiveMs,
		FirstSeen:   minNonZero(p.FirstSeen, incoming.FirstSeen),
		LastSeen:    max(p.LastSeen, incoming.LastSeen),
		LastUpdated: max(p.LastUpdated, incoming.LastUpdated),
		Title:       p.Title,
	}
	if incoming.Title != "" {
		out.Title = incoming.Title
	}

	if len(p.Breakdown) > 0 || len(incoming.Breakdown) > 0 {
		out.Breakdown = make(map[string]int64, len(p.Breakdown)+len(incoming.Breakdown))
		for category, ms := range p.Breakdown {
			out.Breakdown[category] += ms
		}
		for category, ms := range incoming.Breakdown {
			out.Breakdown[category] += ms
		}
	}

	return out
}

// Page returns the stored page and whether it exists.
func (d TrackedData) Page(day, hostname, key string) (PageData, bool) {
	hosts, ok := d[day]
	if !ok {
		return PageData{}, false
	}
	pages, ok := hosts[hostname]
	if !ok {
		return PageData{}, false
	}
	page, ok := pages[key]
	return page, ok
}

// Put stores page, creating intermediate maps as needed.
func (d TrackedData) Put(day, hostname, key string, page PageData) {
	hosts, ok := d[day]
	if !ok {
		hosts = make(DayData)
		d[day] = hosts
	}
	pages, ok := hosts[hostname]
	if !ok {
		pages = make(HostData)
		hosts[hostname] = pages
	}
	pages[key] = page
}

// Days returns the day buckets present in d, sorted ascending.
func (d TrackedData) Days() []string {
	days := make([]string, 0, len(d))
	for day := range d {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// Filter returns the subset of d whose days fall within [start, end].
func (d TrackedData) Filter(start, end string) TrackedData {
	out := make(TrackedData)
	for day, hosts := range d {
		if day >= start && day <= end {
			out[day] = hosts
		}
	}
	return out
}

// MillisOf converts t to Unix milliseconds, mapping the zero time to 0.
func MillisOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}
