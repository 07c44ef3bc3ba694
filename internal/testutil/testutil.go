// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// WaitShort bounds how long a test waits on asynchronous work.
const WaitShort = 10 * time.Second

// Epoch is the fixed instant mock clocks start from.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// Context returns a context that is cancelled after d or when the test ends.
func Context(t testing.TB, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a zerolog logger writing through t.Log.
func Logger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NewClock returns a mock clock set to Epoch.
func NewClock(t testing.TB) *quartz.Mock {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(Epoch).MustWait(Context(t, WaitShort))
	return mClock
}

// AdvanceTo moves the mock clock forward to target, stopping at every timer
// event in between so their callbacks complete in order.
func AdvanceTo(ctx context.Context, t testing.TB, mClock *quartz.Mock, target time.Time) {
	t.Helper()
	for {
		remaining := target.Sub(mClock.Now())
		if remaining <= 0 {
			return
		}
		if next, ok := mClock.Peek(); ok && next < remaining {
			mClock.Advance(next).MustWait(ctx)
			continue
		}
		mClock.Advance(remaining).MustWait(ctx)
		return
	}
}

// AdvanceBy moves the mock clock forward by d. See AdvanceTo.
func AdvanceBy(ctx context.Context, t testing.TB, mClock *quartz.Mock, d time.Duration) {
	t.Helper()
	AdvanceTo(ctx, t, mClock, mClock.Now().Add(d))
}
