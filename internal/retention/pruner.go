// Package retention prunes persisted days older than a configured window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/rs/zerolog"
)

// Pruner removes day buckets that fall outside the retention window.
type Pruner struct {
	store    storage.TrackedStore
	clock    quartz.Clock
	days     int
	interval time.Duration
	loc      *time.Location
	logger   zerolog.Logger
}

// NewPruner creates a pruner keeping the most recent days calendar days,
// today included. days <= 0 keeps everything.
func NewPruner(store storage.TrackedStore, clock quartz.Clock, days int, interval time.Duration, loc *time.Location, logger zerolog.Logger) *Pruner {
	return &Pruner{
		store:    store,
		clock:    clock,
		days:     days,
		interval: interval,
		loc:      loc,
		logger:   logger.With().Str("component", "retention").Logger(),
	}
}

// Enabled reports whether the pruner ever removes anything.
func (p *Pruner) Enabled() bool {
	return p.days > 0
}

// Cutoff returns the oldest day that is kept.
func (p *Pruner) Cutoff() string {
	return identity.Day(p.clock.Now().AddDate(0, 0, -(p.days-1)), p.loc)
}

// Prune removes every day older than the cutoff and returns how many were
// removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}

	days, err := p.store.Days(ctx)
	if err != nil {
		return 0, fmt.Errorf("list days: %w", err)
	}

	cutoff := p.Cutoff()
	removed := 0
	for _, day := range days {
		if day >= cutoff {
			continue
		}
		if err := p.store.Remove(ctx, day); err != nil {
			return removed, fmt.Errorf("remove day %s: %w", day, err)
		}
		removed++
	}

	if removed > 0 {
		p.logger.Info().Int("removed", removed).Str("cutoff", cutoff).Msg("Pruned old days")
	}
	return removed, nil
}

// Start prunes once, then on every interval until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Debug().Msg("Retention disabled, keeping all days")
		return
	}

	run := func() error {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Retention pass failed")
		}
		return nil
	}

	_ = run()
	p.clock.TickerFunc(ctx, p.interval, run, "retention")

	p.logger.Info().
		Int("days", p.days).
		Dur("interval", p.interval).
		Msg("Retention pruner started")
}
