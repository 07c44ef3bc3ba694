package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/tracker"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TabCache remembers the last full description of each resource seen in
// events. It answers the tracker's current-truth lookups.
type TabCache struct {
	mu    sync.Mutex
	cache *lru.Cache[registry.ResourceID, tracker.ResourceInfo]
}

// NewTabCache creates a cache holding up to size resources.
func NewTabCache(size int) (*TabCache, error) {
	cache, err := lru.New[registry.ResourceID, tracker.ResourceInfo](size)
	if err != nil {
		return nil, fmt.Errorf("create tab cache: %w", err)
	}
	return &TabCache{cache: cache}, nil
}

// Remember stores info as the current truth for its resource.
func (c *TabCache) Remember(info tracker.ResourceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(info.ID, info)
}

// Update applies changed fields to a resource. A resource seen for the
// first time is remembered when the change carries its URL.
func (c *TabCache) Update(id registry.ResourceID, change tracker.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.cache.Peek(id)
	if !ok {
		if change.URL == nil {
			return
		}
		info = tracker.ResourceInfo{ID: id}
	}
	if change.URL != nil {
		info.URL = *change.URL
	}
	if change.Title != nil {
		info.Title = *change.Title
	}
	c.cache.Add(id, info)
}

// Activate marks id active in container and every other cached resource
// of that container inactive.
func (c *TabCache) Activate(id registry.ResourceID, container registry.ContainerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, other := range c.cache.Keys() {
		info, ok := c.cache.Peek(other)
		if !ok || other == id || info.ContainerID != container || !info.Active {
			continue
		}
		info.Active = false
		c.cache.Add(other, info)
	}

	if info, ok := c.cache.Peek(id); ok {
		info.ContainerID = container
		info.Active = true
		c.cache.Add(id, info)
	}
}

// Forget drops a removed resource.
func (c *TabCache) Forget(id registry.ResourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(id)
}

// Len returns the number of cached resources.
func (c *TabCache) Len() int {
	return c.cache.Len()
}

// Lookup implements tracker.Source.
func (c *TabCache) Lookup(ctx context.Context, id registry.ResourceID) (tracker.ResourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return tracker.ResourceInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.cache.Get(id)
	if !ok {
		return tracker.ResourceInfo{}, fmt.Errorf("resource %d: %w", id, tracker.ErrResourceGone)
	}
	return info, nil
}
