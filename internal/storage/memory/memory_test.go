package memory

import (
	"context"
	"testing"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedStore(t *testing.T) {
	ctx := context.Background()
	tracked := New().Tracked()

	data := make(storage.TrackedData)
	data.Put("2024-03-01", "example.com", "/a", storage.PageData{ActiveMs: 100, Breakdown: map[string]int64{"active_focused": 100}})
	data.Put("2024-03-02", "example.com", "/b", storage.PageData{ActiveMs: 200})
	require.NoError(t, tracked.Set(ctx, data))

	// Mutating the caller's copy must not leak into the store.
	data["2024-03-01"]["example.com"]["/a"].Breakdown["active_focused"] = 999

	all, err := tracked.GetAll(ctx)
	require.NoError(t, err)
	page, ok := all.Page("2024-03-01", "example.com", "/a")
	require.True(t, ok)
	assert.Equal(t, int64(100), page.Breakdown["active_focused"])

	days, err := tracked.Days(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, days)

	some, err := tracked.GetDays(ctx, "2024-03-02", "2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-02"}, some.Days())

	none, err := tracked.GetDays(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, tracked.Remove(ctx, "2024-03-01"))
	days, err = tracked.Days(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-02"}, days)

	require.NoError(t, tracked.Clear(ctx))
	all, err = tracked.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tracked := New().Tracked()
	_, err := tracked.GetAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, tracked.Clear(ctx), context.Canceled)
}
