package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/tabtime/internal/accounting"
	"github.com/goodtune/tabtime/internal/aggregate"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/ingest"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/policy"
	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/retention"
	"github.com/goodtune/tabtime/internal/systemd"
	"github.com/goodtune/tabtime/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start tabtime server",
	Long:  `Start the tabtime server with the event ingest API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting tabtime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize policy engine
	policyEngine, err := policy.New(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	logger.Info().Str("engine", cfg.Policy.Engine).Msg("Policy engine initialized")

	clock := quartz.NewReal()
	loc := cfg.Tracking.Location()

	sourceCache, err := ingest.NewTabCache(cfg.Tracking.SourceCacheSize)
	if err != nil {
		return err
	}

	aggregator := aggregate.New(store.Tracked(), clock, parseDuration(cfg.Tracking.FlushInterval, aggregate.DefaultFlushInterval), logger)

	tabTracker := tracker.New(tracker.Config{
		Registry: registry.New(policyEngine),
		Engine: accounting.NewEngine(accounting.Options{
			Mode:              accounting.Mode(cfg.Tracking.Mode),
			MinActiveDuration: parseDuration(cfg.Tracking.MinActiveDuration, 0),
			Location:          loc,
		}, logger),
		Aggregator:     aggregator,
		Store:          store.Tracked(),
		Source:         sourceCache,
		Clock:          clock,
		DebounceWindow: parseDuration(cfg.Tracking.DebounceWindow, tracker.DefaultDebounceWindow),
		SafetyInterval: parseDuration(cfg.Tracking.SafetyFlushInterval, 0),
		Location:       loc,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tabTracker.Start(ctx)

	pruner := retention.NewPruner(store.Tracked(), clock, cfg.Retention.Days,
		parseDuration(cfg.Retention.Interval, 24*time.Hour), loc, logger)
	pruner.Start(ctx)

	// Initialize servers
	apiAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.APIPort))
	apiServer := ingest.NewServer(apiAddr, ingest.NewHandler(tabTracker, sourceCache, logger), logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort))
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Serve)
	if metricsServer != nil {
		g.Go(metricsServer.Serve)
	}

	logger.Info().Msg("tabtime startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	if interval := systemd.WatchdogInterval(); interval > 0 {
		clock.TickerFunc(gctx, interval, func() error {
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
			return nil
		}, "watchdog")
	}

	reload := func() error {
		if err := policyEngine.Reload(); err != nil {
			return err
		}
		if n := tabTracker.RecheckExclusions(); n > 0 {
			logger.Info().Int("resources", n).Msg("Stopped tracking resources excluded by reloaded policy")
		}
		return nil
	}
	waitForShutdown(gctx, reload, logger)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop accepting events before the final accounting pass
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping ingest server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := tabTracker.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Final flush failed")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("tabtime stopped")
	return nil
}

// waitForShutdown blocks until a shutdown signal arrives or ctx is done.
// SIGHUP runs reload.
func waitForShutdown(ctx context.Context, reload func() error, logger zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			logger.Warn().Err(context.Cause(ctx)).Msg("Server exited, shutting down")
			return
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading policies...")
				if err := reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
				}
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			return
		}
	}
}
