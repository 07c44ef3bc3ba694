package ingest

import (
	"context"
	"testing"

	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabCache(t *testing.T) {
	cache, err := NewTabCache(2)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Remember(tracker.ResourceInfo{ID: 1, ContainerID: 1, URL: "chrome://newtab/", Active: true})
	cache.Remember(tracker.ResourceInfo{ID: 2, ContainerID: 1, URL: "https://b.test/"})

	cache.Update(1, tracker.Change{URL: registry.Ptr("https://a.test/"), Title: registry.Ptr("A")})
	info, err := cache.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://a.test/", info.URL)
	assert.Equal(t, "A", info.Title)

	cache.Activate(2, 1)
	first, _ := cache.Lookup(ctx, 1)
	second, _ := cache.Lookup(ctx, 2)
	assert.False(t, first.Active)
	assert.True(t, second.Active)

	cache.Forget(2)
	_, err = cache.Lookup(ctx, 2)
	assert.ErrorIs(t, err, tracker.ErrResourceGone)

	// Title-only updates for unknown resources are ignored.
	cache.Update(9, tracker.Change{Title: registry.Ptr("x")})
	_, err = cache.Lookup(ctx, 9)
	assert.ErrorIs(t, err, tracker.ErrResourceGone)
}

func TestTabCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewTabCache(2)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Remember(tracker.ResourceInfo{ID: 1})
	cache.Remember(tracker.ResourceInfo{ID: 2})
	_, _ = cache.Lookup(ctx, 1)
	cache.Remember(tracker.ResourceInfo{ID: 3})

	assert.Equal(t, 2, cache.Len())
	_, err = cache.Lookup(ctx, 2)
	assert.ErrorIs(t, err, tracker.ErrResourceGone)
	_, err = cache.Lookup(ctx, 1)
	assert.NoError(t, err)
}

func TestTabCacheSeedsFromURLUpdate(t *testing.T) {
	cache, err := NewTabCache(4)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Update(9, tracker.Change{URL: registry.Ptr("https://z.test/p"), Title: registry.Ptr("P")})
	info, err := cache.Lookup(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, registry.ResourceID(9), info.ID)
	assert.Equal(t, "https://z.test/p", info.URL)
	assert.Equal(t, "P", info.Title)
	assert.False(t, info.Active)

	cache.Activate(9, 3)
	info, err = cache.Lookup(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, registry.ContainerID(3), info.ContainerID)
	assert.True(t, info.Active)
}
