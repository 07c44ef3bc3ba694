package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_events_total",
			Help: "Total host events received",
		},
		[]string{"type"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_transitions_total",
			Help: "State transitions applied to the registry",
		},
		[]string{"kind"},
	)

	DebounceCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_debounce_coalesced_total",
			Help: "Pending updates replaced by a later update within the debounce window",
		},
	)

	TrackedResources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabtime_tracked_resources",
			Help: "Number of resources in the registry",
		},
	)

	// Accounting metrics
	DeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_deltas_total",
			Help: "Accounting deltas produced",
		},
		[]string{"category"},
	)

	DeltasDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_deltas_dropped_total",
			Help: "Ended states that produced no delta",
		},
		[]string{"reason"},
	)

	AccountedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_accounted_seconds_total",
			Help: "Seconds attributed to each activity category",
		},
		[]string{"category"},
	)

	// Persistence metrics
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_flushes_total",
			Help: "Flushes of pending aggregates to the store",
		},
		[]string{"result"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabtime_flush_duration_seconds",
			Help:    "Flush duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		TransitionsTotal,
		DebounceCoalesced,
		TrackedResources,
		DeltasTotal,
		DeltasDropped,
		AccountedSeconds,
		FlushesTotal,
		FlushDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Serve runs the metrics server until it is stopped.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	var err error
	if s.listener != nil {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
		err = s.server.Serve(s.listener)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error().Err(err).Msg("Metrics server error")
		return err
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
