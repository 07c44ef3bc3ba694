package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Tracked() TrackedStore
}

// TrackedStore holds the durable day → hostname → resource key aggregate.
// It is written only by the aggregation layer; readers see whatever the
// last completed flush left behind.
type TrackedStore interface {
	// GetAll returns every persisted day.
	GetAll(ctx context.Context) (TrackedData, error)
	// GetDays returns the persisted pages for the given days. Missing days
	// are absent from the result rather than an error.
	GetDays(ctx context.Context, days ...string) (TrackedData, error)
	// Days lists the persisted day buckets in ascending order.
	Days(ctx context.Context) ([]string, error)
	// Set overwrites every page present in data. Pages not mentioned are
	// left untouched.
	Set(ctx context.Context, data TrackedData) error
	// Remove deletes a whole day bucket.
	Remove(ctx context.Context, day string) error
	// Clear erases all persisted records.
	Clear(ctx context.Context) error
}
