package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/ingest"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reportStart string
	reportEnd   string
	reportHost  string
	reportPages bool
	reportJSON  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show persisted time per hostname",
	Long: `Print the aggregate for a range of days. A running server is asked first so
that pending time is flushed before reading; otherwise the store is read
directly.`,
	Example: `  tabtime -c config.yaml report
  tabtime report --start 2024-03-01 --end 2024-03-07 --pages
  tabtime report --host example.com --json`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportStart, "start", "", "First day (YYYY-MM-DD) - defaults to today")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "Last day (YYYY-MM-DD) - defaults to start")
	reportCmd.Flags().StringVar(&reportHost, "host", "", "Only show this hostname")
	reportCmd.Flags().BoolVar(&reportPages, "pages", false, "Show per-page detail")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print raw JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	start, end, err := reportRange(reportStart, reportEnd, time.Now(), cfg.Tracking.Location())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := loadReport(ctx, newAPIClient(cfg.Server), cfg.Storage, start, end)
	if err != nil {
		return err
	}
	if stats.FlushError != "" {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "⚠️  Last flush failed, recent time may be missing: %s\n", stats.FlushError)
	}
	data := filterHost(stats.Data, reportHost)

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	printReport(os.Stdout, stats.Start, stats.End, data, reportPages)
	return nil
}

// loadReport asks a running server first, which flushes pending deltas
// before reading. Only when no server answers is the store opened directly.
func loadReport(ctx context.Context, client *apiClient, cfg config.StorageConfig, start, end string) (ingest.StatsResponse, error) {
	stats, err := client.Stats(ctx, start, end)
	if err == nil {
		if stats.Data == nil {
			stats.Data = make(storage.TrackedData)
		}
		return stats, nil
	}
	if !errors.Is(err, errServerUnavailable) {
		return ingest.StatsResponse{}, fmt.Errorf("failed to fetch stats: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return ingest.StatsResponse{}, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	all, err := store.Tracked().GetAll(ctx)
	if err != nil {
		return ingest.StatsResponse{}, fmt.Errorf("failed to read tracked data: %w", err)
	}
	return ingest.StatsResponse{Start: start, End: end, Data: all.Filter(start, end)}, nil
}

// reportRange resolves the day flags, defaulting to today in loc.
func reportRange(start, end string, now time.Time, loc *time.Location) (string, string, error) {
	if start == "" {
		start = identity.Day(now, loc)
	}
	if end == "" {
		end = start
	}
	return identity.DayRange(start, end)
}

func filterHost(data storage.TrackedData, host string) storage.TrackedData {
	if host == "" {
		return data
	}
	out := make(storage.TrackedData)
	for day, hosts := range data {
		if pages, ok := hosts[host]; ok {
			out[day] = storage.DayData{host: pages}
		}
	}
	return out
}

type hostTotal struct {
	hostname string
	activeMs int64
	pages    []pageTotal
}

type pageTotal struct {
	key  string
	page storage.PageData
}

// hostTotals sums each host's pages and orders hosts by time spent.
func hostTotals(day storage.DayData) []hostTotal {
	totals := make([]hostTotal, 0, len(day))
	for hostname, pages := range day {
		ht := hostTotal{hostname: hostname}
		for key, page := range pages {
			ht.activeMs += page.ActiveMs
			ht.pages = append(ht.pages, pageTotal{key: key, page: page})
		}
		sort.Slice(ht.pages, func(i, j int) bool {
			if ht.pages[i].page.ActiveMs != ht.pages[j].page.ActiveMs {
				return ht.pages[i].page.ActiveMs > ht.pages[j].page.ActiveMs
			}
			return ht.pages[i].key < ht.pages[j].key
		})
		totals = append(totals, ht)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].activeMs != totals[j].activeMs {
			return totals[i].activeMs > totals[j].activeMs
		}
		return totals[i].hostname < totals[j].hostname
	})
	return totals
}

func printReport(w io.Writer, start, end string, data storage.TrackedData, pages bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	if len(data) == 0 {
		_, _ = fmt.Fprintf(w, "No data between %s and %s\n", start, end)
		return
	}

	for _, day := range data.Days() {
		_, _ = cyan.Fprintf(w, "\n%s\n", day)
		for _, ht := range hostTotals(data[day]) {
			_, _ = green.Fprintf(w, "  %-40s %10s\n", ht.hostname, formatMillis(ht.activeMs))
			if !pages {
				continue
			}
			for _, pt := range ht.pages {
				title := pt.page.Title
				if title == "" {
					title = pt.key
				}
				_, _ = fmt.Fprintf(w, "    %-38s %10s ", truncate(title, 38), formatMillis(pt.page.ActiveMs))
				_, _ = faint.Fprintf(w, "%s\n", pt.key)
			}
		}
	}
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
