package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/pkg/utils"
)

func addScanCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newIndexCmd(app))
}

func newScanCmd(app *App) *cobra.Command {
	var intraday bool
	var marketOpen string

	cmd := &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Scan symbols for breakouts",
		Long: `Evaluate symbols against the highest high and volume of the previous five
sessions. Without arguments the watchlist is scanned. Triggered results are
stored as alerts.

With --intraday the running session is read from a live quote. When the market
is open and no quote is available the result is marked stale and never
triggers.`,
		Example: `  scanner scan
  scanner scan RELIANCE INFY --intraday
  scanner scan TCS --intraday --market-open=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			open, err := resolveMarketOpen(marketOpen, time.Now())
			if err != nil {
				return err
			}
			entries, err := symbolEntries(args)
			if err != nil {
				return err
			}
			if err := app.open(ctx); err != nil {
				return err
			}
			if len(entries) == 0 {
				if entries, err = app.Store.GetWatchlist(ctx); err != nil {
					return err
				}
			}
			if len(entries) == 0 {
				output.Warning("Watchlist is empty. Add symbols with 'scanner watchlist add SYMBOL'.")
				return nil
			}

			report, err := app.Service.Scan(ctx, entries, intraday, open)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			renderScanReport(output, report, app.Analyzer.Rule().Name())
			return nil
		},
	}

	cmd.Flags().BoolVar(&intraday, "intraday", false, "read the running session from a live quote")
	cmd.Flags().StringVar(&marketOpen, "market-open", "auto", "market state: auto, true or false")

	return cmd
}

// resolveMarketOpen maps the --market-open flag; auto reads the NSE clock.
func resolveMarketOpen(flag string, now time.Time) (bool, error) {
	if flag == "" || flag == "auto" {
		return utils.IsMarketOpenAt(now), nil
	}
	open, err := strconv.ParseBool(flag)
	if err != nil {
		return false, apperrors.NewValidationError("market-open", flag, "must be auto, true or false")
	}
	return open, nil
}

func symbolEntries(args []string) ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			continue
		}
		symbol, err := models.NormalizeSymbol(arg)
		if err != nil {
			return nil, err
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		entries = append(entries, models.WatchlistEntry{Symbol: symbol})
	}
	return entries, nil
}

func renderScanReport(output *Output, report *scanner.ScanReport, rule string) {
	table := NewTable(output, "Symbol", "Source", "High", "Prev High", "High %", "Volume", "Prev Max Vol", "Vol %", "Breakout")
	for _, r := range report.Results {
		breakout := output.DimText("-")
		if r.Triggered {
			breakout = output.Green("▲ BREAKOUT")
		} else if r.HighBreak || r.VolumeBreak {
			breakout = output.Yellow("partial")
		}
		table.AddRow(
			r.Symbol,
			output.SourceTag(r.DataSource),
			FormatPrice(r.TodayHigh),
			FormatPrice(r.PrevMaxHigh),
			output.FormatPercent(r.HighBreakPercent),
			FormatVolume(r.TodayVolume),
			FormatVolume(r.PrevMaxVolume),
			output.FormatPercent(r.VolumeBreakPercent),
			breakout,
		)
	}
	table.Render()
	output.Println()

	triggered := report.Triggered()
	output.Dim("Scanned %d symbols at %s IST (volume rule: %s)", len(report.Results), FormatTime(report.ScannedAt), rule)
	switch {
	case len(triggered) == 0:
		output.Info("No breakouts")
	case len(report.Alerts) == 0:
		output.Success("%d breakout(s), already alerted today", len(triggered))
	default:
		output.Success("%d breakout(s), %d new alert(s)", len(triggered), len(report.Alerts))
	}
	for _, r := range report.Results {
		if r.DataSource.IsStale() {
			output.Warning("Live data unavailable for some symbols; stale results never trigger")
			break
		}
	}
}

func newIndexCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Discover breakouts across the index",
		Long: `Read the bulk index snapshot and classify every constituent against its
five-session baseline. Only breakouts are listed unless --all is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			if err := app.open(ctx); err != nil {
				return err
			}
			report, err := app.Service.RefreshIndex(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			renderIndexReport(output, report, all, app.Config.Scanner.IndexName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list every constituent, not only breakouts")

	return cmd
}

func renderIndexReport(output *Output, report *scanner.IndexReport, all bool, indexName string) {
	snap := report.Snapshot
	if !snap.FetchSuccess && len(snap.Rows) == 0 {
		output.Error("%s snapshot unavailable", indexName)
		return
	}
	if snap.Stale {
		output.Warning("Snapshot refresh failed; showing data from %s. Breakouts are suppressed.", FormatDateTime(snap.FetchedAt))
	}

	rows := report.Discoveries
	if !all {
		rows = report.Breakouts()
	}
	if len(rows) == 0 {
		output.Info("No breakouts across %d constituents", len(report.Discoveries))
		return
	}

	table := NewTable(output, "Symbol", "LTP", "Change", "Day High", "5d High", "High %", "Volume", "5d Avg Vol", "Ratio", "Breakout")
	for _, d := range rows {
		breakout := output.DimText("-")
		switch {
		case !d.Evaluated:
			breakout = output.DimText("n/a")
		case d.Breakout:
			breakout = output.Green("▲ BREAKOUT")
		}
		table.AddRow(
			d.Symbol,
			FormatIndianCurrency(d.LastPrice),
			output.FormatPercent(d.PChange),
			FormatPrice(d.DayHigh),
			FormatPrice(d.MaxHigh5d),
			output.FormatPercent(d.HighBreakPercent),
			FormatVolume(d.Volume),
			FormatAvgVolume(d.AvgVolume5d),
			FormatRatio(d.VolumeRatio),
			breakout,
		)
	}
	table.Render()
	output.Println()
	output.Dim("%d of %d constituents broke out (%s)", len(report.Breakouts()), len(report.Discoveries), snap.FetchedAt.In(utils.IndiaLocation).Format("15:04:05 IST"))
}
