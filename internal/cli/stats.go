package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"nifty-breakout/internal/cache"
)

func addStatsCommands(rootCmd *cobra.Command, app *App) {
	var cumulative bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Upstream call accounting",
		Long: `Show how many upstream calls were made and how many reads were served from
cache. Without --cumulative only this process is reported; the cumulative
counters are shared by every instance using the same store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.openStore(ctx); err != nil {
				return err
			}

			if !cumulative {
				recent := app.Accountant.RecentStats()
				if output.IsJSON() {
					return output.JSON(recent)
				}
				output.Box("Call Accounting (this process)", []string{
					fmt.Sprintf("API calls:    %d", recent.APICalls),
					fmt.Sprintf("Cache hits:   %d", recent.CacheHits),
					fmt.Sprintf("Rate (60s):   %.2f/s", recent.RecentRatePerSecond),
				})
				return nil
			}

			// Push this process's deltas first so the totals include them
			if err := app.Accountant.Flush(ctx); err != nil {
				return err
			}
			stats, err := app.Accountant.CumulativeStats(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"apiCalls":        stats.APICalls,
					"cacheHits":       stats.CacheHits,
					"cacheHitRate":    stats.CacheHitRate(),
					"lastFlushed":     stats.LastFlushed,
					"methodBreakdown": stats.MethodBreakdown,
					"counters":        stats.Counters,
				})
			}

			lines := []string{
				fmt.Sprintf("API calls:      %d", stats.APICalls),
				fmt.Sprintf("Cache hits:     %d", stats.CacheHits),
				fmt.Sprintf("Hit rate:       %.1f%%", stats.CacheHitRate()),
				fmt.Sprintf("Last flushed:   %s", lastFlushedLine(stats.LastFlushed, time.Now())),
			}
			output.Box("Call Accounting (cumulative)", lines)

			if len(stats.MethodBreakdown) > 0 {
				output.Println()
				table := NewTable(output, "Method", "Calls")
				for _, m := range sortedKeys(stats.MethodBreakdown) {
					table.AddRow(m, fmt.Sprintf("%d", stats.MethodBreakdown[m]))
				}
				table.Render()
			}

			if len(stats.Counters) > 0 {
				output.Println()
				output.Bold("Snapshot refreshes")
				output.Printf("  Attempts:  %d\n", stats.Counters[cache.CounterSnapshotAttempt])
				output.Printf("  Succeeded: %d\n", stats.Counters[cache.CounterSnapshotSuccess])
				output.Printf("  Failed:    %d\n", stats.Counters[cache.CounterSnapshotFailure])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cumulative, "cumulative", false, "show totals from the durable store")

	rootCmd.AddCommand(cmd)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lastFlushedLine renders the flush time with its age, e.g.
// "11-Mar-2024 10:15:00 (2m 5s ago)".
func lastFlushedLine(at, now time.Time) string {
	if at.IsZero() {
		return FormatDateTime(at)
	}
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s (%s ago)", FormatDateTime(at), FormatDuration(age))
}
