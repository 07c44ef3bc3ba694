// Package memory is a process-local storage backend. Nothing survives a
// restart; it exists for tests and for running without any disk state.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/goodtune/tabtime/internal/storage"
)

// Store implements storage.Store with an in-memory map.
type Store struct {
	tracked *trackedStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tracked: &trackedStore{data: make(storage.TrackedData)}}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Tracked returns the tracked data store.
func (s *Store) Tracked() storage.TrackedStore { return s.tracked }

type trackedStore struct {
	mu   sync.RWMutex
	data storage.TrackedData
}

func (s *trackedStore) GetAll(ctx context.Context) (storage.TrackedData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneData(s.data, nil), nil
}

func (s *trackedStore) GetDays(ctx context.Context, days ...string) (storage.TrackedData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return make(storage.TrackedData), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneData(s.data, days), nil
}

func (s *trackedStore) Days(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Days(), nil
}

func (s *trackedStore) Set(ctx context.Context, data storage.TrackedData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for day, hosts := range data {
		for host, pages := range hosts {
			for key, page := range pages {
				s.data.Put(day, host, key, clonePage(page))
			}
		}
	}
	return nil
}

func (s *trackedStore) Remove(ctx context.Context, day string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, day)
	return nil
}

func (s *trackedStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(storage.TrackedData)
	return nil
}

// cloneData deep-copies data, limited to days when non-nil.
func cloneData(data storage.TrackedData, days []string) storage.TrackedData {
	out := make(storage.TrackedData)
	copyDay := func(day string) {
		for host, pages := range data[day] {
			for key, page := range pages {
				out.Put(day, host, key, clonePage(page))
			}
		}
	}
	if days == nil {
		for day := range data {
			copyDay(day)
		}
		return out
	}
	for _, day := range days {
		copyDay(day)
	}
	return out
}

func clonePage(page storage.PageData) storage.PageData {
	page.Breakdown = maps.Clone(page.Breakdown)
	return page
}
