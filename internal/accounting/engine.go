package accounting

import (
	"errors"
	"time"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/registry"
	"github.com/rs/zerolog"
)

// Engine wraps Compute with logging and metrics.
type Engine struct {
	opts   Options
	logger zerolog.Logger
}

// NewEngine creates an accounting engine.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeDetailed
	}
	return &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "accounting").Logger(),
	}
}

// Mode returns the classification mode.
func (e *Engine) Mode() Mode { return e.opts.Mode }

// AccountPrevious computes the delta for prev ending at end. Failures are
// logged and reported as false; they never surface as errors.
func (e *Engine) AccountPrevious(prev registry.ResourceState, end time.Time) (Delta, bool) {
	delta, err := Compute(prev, end, e.opts)
	if err != nil {
		reason := "empty"
		switch {
		case errors.Is(err, ErrMalformedState):
			reason = "malformed"
			e.logger.Warn().Err(err).Int64("resource_id", int64(prev.ID)).Msg("Dropping delta for malformed state")
		case errors.Is(err, ErrClockRegression):
			reason = "clock_regression"
			e.logger.Warn().Err(err).Int64("resource_id", int64(prev.ID)).Msg("Dropping delta after clock regression")
		default:
			e.logger.Debug().Int64("resource_id", int64(prev.ID)).Msg("Ended state lasted no time")
		}
		metrics.DeltasDropped.WithLabelValues(reason).Inc()
		return Delta{}, false
	}

	metrics.DeltasTotal.WithLabelValues(string(delta.Category)).Inc()
	metrics.AccountedSeconds.WithLabelValues(string(delta.Category)).Add(delta.Duration.Seconds())

	e.logger.Debug().
		Int64("resource_id", int64(prev.ID)).
		Str("host", delta.Hostname).
		Str("key", delta.ResourceKey).
		Str("category", string(delta.Category)).
		Dur("duration", delta.Duration).
		Dur("discarded", delta.Discarded).
		Msg("Accounted state")

	return delta, true
}
