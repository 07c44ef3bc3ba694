package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/spf13/cobra"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase all persisted tracking data",
	Long: `Erase every persisted day bucket. A running server is asked to clear so that
its pending deltas are discarded too; otherwise the store is cleared directly.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm erasing all data")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to erase data without --yes")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := clearData(ctx, newAPIClient(cfg.Server), cfg.Storage); err != nil {
		return err
	}

	_, _ = color.New(color.FgYellow, color.Bold).Fprintln(os.Stdout, "All tracked data erased")
	return nil
}

// clearData clears through a running server, falling back to the store
// when no server answers.
func clearData(ctx context.Context, client *apiClient, cfg config.StorageConfig) error {
	err := client.Clear(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errServerUnavailable) {
		return fmt.Errorf("failed to clear tracked data: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if err := store.Tracked().Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear tracked data: %w", err)
	}
	return nil
}
