// Package identity derives stable grouping keys from resource URLs and
// buckets timestamps into calendar days.
package identity

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DayLayout is the format of a day bucket.
const DayLayout = "2006-01-02"

// Key identifies the content a resource is showing.
type Key struct {
	Scheme   string
	Hostname string
	Path     string
}

// Parse derives a Key from a raw URL. Query and fragment are dropped and an
// empty path is normalized to "/". Opaque URLs such as "about:blank" parse
// successfully with an empty hostname.
func Parse(rawURL string) (Key, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Key{}, fmt.Errorf("empty url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return Key{}, fmt.Errorf("url %q has no scheme", rawURL)
	}

	key := Key{
		Scheme:   strings.ToLower(u.Scheme),
		Hostname: strings.ToLower(u.Hostname()),
		Path:     u.EscapedPath(),
	}
	if u.Opaque != "" {
		key.Path = u.Opaque
	}
	if key.Path == "" {
		key.Path = "/"
	}

	return key, nil
}

// GroupKey returns the hostname resources are bucketed under.
func (k Key) GroupKey() string {
	return k.Hostname
}

// ResourceKey returns the normalized resource identifier within a group.
func (k Key) ResourceKey() string {
	return k.Path
}

// String renders the key as scheme://hostname/path.
func (k Key) String() string {
	return k.Scheme + "://" + k.Hostname + k.Path
}

// Day returns the day bucket t falls into. A nil location uses t's own.
func Day(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DayLayout)
}

// ParseDay validates a day bucket string.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// DayRange validates start and end and returns them ordered.
func DayRange(start, end string) (string, string, error) {
	s, err := ParseDay(start)
	if err != nil {
		return "", "", err
	}
	e, err := ParseDay(end)
	if err != nil {
		return "", "", err
	}
	if e.Before(s) {
		return end, start, nil
	}
	return start, end, nil
}

// InRange reports whether day lies within [start, end]. Day strings sort
// lexically in chronological order.
func InRange(day, start, end string) bool {
	return day >= start && day <= end
}
