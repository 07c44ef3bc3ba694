package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/tabtime/internal/accounting"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/memory"
	"github.com/goodtune/tabtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a TrackedStore, counting writes and optionally
// failing them.
type countingStore struct {
	storage.TrackedStore

	mu   sync.Mutex
	sets int
	fail error
}

func (s *countingStore) Set(ctx context.Context, data storage.TrackedData) error {
	s.mu.Lock()
	s.sets++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.TrackedStore.Set(ctx, data)
}

func (s *countingStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *countingStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func setup(t *testing.T) (*Aggregator, *countingStore) {
	t.Helper()
	store := &countingStore{TrackedStore: memory.New().Tracked()}
	a := New(store, testutil.NewClock(t), 0, testutil.Logger(t))
	t.Cleanup(a.Close)
	return a, store
}

var key = Key{Day: "2024-03-01", Hostname: "a.test", ResourceKey: "/x"}

func ms(n int64) time.Time { return time.UnixMilli(n) }

func pending(active time.Duration, first, last int64, title string) Pending {
	return Pending{
		Active:      active,
		Breakdown:   map[accounting.Category]time.Duration{accounting.CategoryActiveFocused: active},
		FirstSeenAt: ms(first),
		LastSeenAt:  ms(last),
		Title:       title,
	}
}

func readPage(t *testing.T, store storage.TrackedStore) storage.PageData {
	t.Helper()
	data, err := store.GetAll(context.Background())
	require.NoError(t, err)
	page, ok := data.Page(key.Day, key.Hostname, key.ResourceKey)
	require.True(t, ok, "page not persisted")
	return page
}

func TestRecordMergesPending(t *testing.T) {
	a, store := setup(t)
	ctx := testutil.Context(t, testutil.WaitShort)

	a.Record(key, pending(time.Second, 2000, 3000, "first"))
	a.Record(key, pending(2*time.Second, 1000, 2500, ""))
	a.Record(key, pending(0, 5000, 2000, "last"))
	assert.Equal(t, 1, a.PendingLen())

	require.NoError(t, a.ForceFlush(ctx))
	page := readPage(t, store)
	assert.Equal(t, int64(3000), page.ActiveMs)
	assert.Equal(t, int64(1000), page.FirstSeen)
	assert.Equal(t, int64(3000), page.LastSeen)
	assert.Equal(t, "last", page.Title)
	assert.Equal(t, int64(3000), page.Breakdown["active_focused"])
}

func TestFlushIsIdempotent(t *testing.T) {
	a, store := setup(t)
	ctx := testutil.Context(t, testutil.WaitShort)

	a.Record(key, pending(time.Second, 1000, 2000, "X"))
	require.NoError(t, a.Flush(ctx))
	before := readPage(t, store)

	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, 1, store.setCount(), "second flush must not write")
	assert.Equal(t, before, readPage(t, store))
}

func TestMergeAcrossFlushCycles(t *testing.T) {
	a, store := setup(t)
	ctx := testutil.Context(t, testutil.WaitShort)

	a.Record(key, pending(5*time.Second, 2000, 7000, "X"))
	require.NoError(t, a.Flush(ctx))
	a.Record(key, pending(3*time.Second, 1000, 4000, "Y"))
	require.NoError(t, a.Flush(ctx))

	page := readPage(t, store)
	assert.Equal(t, int64(8000), page.ActiveMs)
	assert.Equal(t, int64(1000), page.FirstSeen)
	assert.Equal(t, int64(7000), page.LastSeen)
	assert.Equal(t, "Y", page.Title)
	assert.Equal(t, int64(8000), page.Breakdown["active_focused"])
}

func TestFlushTimerIsDebouncedAndGlobal(t *testing.T) {
	store := &countingStore{TrackedStore: memory.New().Tracked()}
	mClock := testutil.NewClock(t)
	a := New(store, mClock, 0, testutil.Logger(t))
	t.Cleanup(a.Close)
	ctx := testutil.Context(t, testutil.WaitShort)

	a.Record(key, pending(time.Second, 1000, 2000, "X"))
	testutil.AdvanceBy(ctx, t, mClock, 1500*time.Millisecond)
	a.Record(Key{Day: key.Day, Hostname: "b.test", ResourceKey: "/"}, pending(time.Second, 1000, 2000, "B"))

	testutil.AdvanceBy(ctx, t, mClock, 1500*time.Millisecond)
	assert.Equal(t, 0, store.setCount(), "timer restarted by the second record")

	testutil.AdvanceBy(ctx, t, mClock, 500*time.Millisecond)
	assert.Equal(t, 1, store.setCount(), "one write for both keys")
	assert.Equal(t, 0, a.PendingLen())

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all[key.Day], 2)
	assert.Equal(t, mClock.Now(), a.Status().LastFlushAt)
}

func TestFlushFailureDropsBatch(t *testing.T) {
	a, store := setup(t)
	ctx := testutil.Context(t, testutil.WaitShort)

	boom := errors.New("store unavailable")
	store.setFailure(boom)
	a.Record(key, pending(time.Second, 1000, 2000, "lost"))

	err := a.ForceFlush(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.PendingLen(), "failed batch is not re-queued")
	status := a.Status()
	assert.ErrorIs(t, status.LastError, boom)
	assert.False(t, status.LastErrorAt.IsZero())

	store.setFailure(nil)
	a.Record(key, pending(2*time.Second, 3000, 4000, "kept"))
	require.NoError(t, a.ForceFlush(ctx))

	page := readPage(t, store)
	assert.Equal(t, int64(2000), page.ActiveMs)
	assert.Equal(t, "kept", page.Title)
}

func TestClearAll(t *testing.T) {
	store := &countingStore{TrackedStore: memory.New().Tracked()}
	mClock := testutil.NewClock(t)
	a := New(store, mClock, 0, testutil.Logger(t))
	t.Cleanup(a.Close)
	ctx := testutil.Context(t, testutil.WaitShort)

	a.Record(key, pending(time.Second, 1000, 2000, "X"))
	require.NoError(t, a.ForceFlush(ctx))
	a.Record(key, pending(time.Second, 1000, 2000, "X"))

	require.NoError(t, a.ClearAll(ctx))
	assert.Equal(t, 0, a.PendingLen())

	testutil.AdvanceBy(ctx, t, mClock, 5*time.Second)
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1, store.setCount())
}

func TestFromDelta(t *testing.T) {
	focused := FromDelta(accounting.Delta{Category: accounting.CategoryActiveFocused, Duration: time.Second, Title: "X"})
	assert.Equal(t, time.Second, focused.Active)
	assert.Equal(t, time.Second, focused.Breakdown[accounting.CategoryActiveFocused])

	idle := FromDelta(accounting.Delta{Category: accounting.CategoryIdle, Duration: time.Second})
	assert.Zero(t, idle.Active)
	assert.Equal(t, time.Second, idle.Breakdown[accounting.CategoryIdle])

	discarded := FromDelta(accounting.Delta{Category: accounting.CategoryInactive, Discarded: time.Second, LastSeenAt: ms(9)})
	assert.Nil(t, discarded.Breakdown)
	assert.Equal(t, ms(9), discarded.LastSeenAt)
}
