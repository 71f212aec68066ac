package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nifty-breakout/internal/accounting"
	"nifty-breakout/internal/alerts"
	"nifty-breakout/internal/baseline"
	"nifty-breakout/internal/cache"
	"nifty-breakout/internal/config"
	"nifty-breakout/internal/feed"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/notify"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// closeTimeout bounds the final accounting flush on exit.
const closeTimeout = 10 * time.Second

// App holds the application dependencies. Config is loaded before every
// command; the services are opened only by commands that need them.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	Store      store.Store
	Accountant *accounting.Accountant
	Feed       *feed.Guarded
	Historical *cache.HistoricalCache
	Snapshots  *cache.SnapshotCache
	Baselines  *baseline.Engine
	Analyzer   *scanner.Analyzer
	Alerts     *alerts.Store
	Service    *scanner.Service
}

// NewApp creates an App with no services opened yet.
func NewApp(logger zerolog.Logger) *App {
	return &App{Logger: logger}
}

// Execute runs the CLI and releases the services afterwards.
func Execute(ctx context.Context, logger zerolog.Logger) error {
	app := NewApp(logger)
	err := NewRootCmd(app).ExecuteContext(ctx)
	if cerr := app.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scanner",
		Short: "NIFTY breakout scanner",
		Long: `Scans NSE equities for price and volume breakouts.

A symbol breaks out when today's high clears the highest high of the previous
five sessions and today's volume clears the reference volume. Breakouts on a
watchlist are stored as alerts, at most one per symbol per trading day.

Use 'scanner <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nifty-breakout)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addScanCommands(rootCmd, app)
	addAlertCommands(rootCmd, app)
	addWatchlistCommands(rootCmd, app)
	addStatsCommands(rootCmd, app)
	addServeCommands(rootCmd, app)

	return rootCmd
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigDir = dir
	a.Logger = logging.NewLoggerWithConfig(cfg.Log)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

// open wires every component from the loaded config. It is idempotent.
func (a *App) open(ctx context.Context) error {
	if a.Service != nil {
		return nil
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	cfg := a.Config

	upstream, err := feed.NewFromConfig(cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Feed = upstream

	a.Historical = cache.NewHistoricalCache(cache.HistoricalConfig{
		Fetcher:  upstream,
		Recorder: a.Accountant,
		Logger:   a.Logger,
	})
	a.Snapshots = cache.NewSnapshotCache(cache.SnapshotConfig{
		Fetcher:   upstream,
		IndexName: cfg.Scanner.IndexName,
		Recorder:  a.Accountant,
		Counters:  a.Store,
		Logger:    a.Logger,
	})
	a.Baselines = baseline.NewEngine(baseline.Config{
		History:   a.Historical,
		Depth:     cfg.Scanner.BaselineDepth,
		BatchSize: cfg.Scanner.BaselineBatchSize,
		Logger:    a.Logger,
	})

	rule, err := scanner.RuleFromConfig(cfg.Scanner)
	if err != nil {
		return err
	}
	a.Analyzer = scanner.NewAnalyzer(scanner.AnalyzerConfig{
		History:  a.Historical,
		Quotes:   upstream,
		Recorder: a.Accountant,
		Rule:     rule,
		Depth:    cfg.Scanner.HistoryDepth,
		Logger:   a.Logger,
	})

	a.Service = scanner.NewService(scanner.ServiceConfig{
		Analyzer:                a.Analyzer,
		Alerts:                  a.Alerts,
		Snapshots:               a.Snapshots,
		Baselines:               a.Baselines,
		DiscoveryVolumeMultiple: cfg.Scanner.DiscoveryVolumeMultiple,
		Logger:                  a.Logger,
	})
	return nil
}

// openStore opens the durable store and the components that need nothing
// else: accounting and alerts.
func (a *App) openStore(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}
	st, err := store.Open(ctx, a.Config.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.Config.Storage.Backend, err)
	}
	a.Store = st
	a.Logger.Debug().Str("backend", a.Config.Storage.Backend).Msg("Store opened")

	a.Accountant = accounting.New(accounting.Config{
		Capacity: a.Config.Accounting.RingCapacity,
		Store:    st,
		Logger:   a.Logger,
	})
	a.Alerts = alerts.New(alerts.Config{
		Backend:  st,
		Notifier: notify.New(a.Config.Notify, a.Logger),
		Logger:   a.Logger,
	})
	return nil
}

// Close flushes pending accounting and closes the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var err error
	if a.Accountant != nil {
		err = a.Accountant.Flush(ctx)
	}
	if cerr := a.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.Store = nil
	return err
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("NIFTY Breakout Scanner v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Scanner")
	output.Printf("  Index:             %s\n", cfg.Scanner.IndexName)
	output.Printf("  History Depth:     %d sessions\n", cfg.Scanner.HistoryDepth)
	output.Printf("  Baseline Depth:    %d sessions\n", cfg.Scanner.BaselineDepth)
	output.Printf("  Baseline Batch:    %d\n", cfg.Scanner.BaselineBatchSize)
	output.Printf("  Volume Rule:       %s\n", cfg.Scanner.VolumeRule)
	if cfg.Scanner.VolumeRule == scanner.RuleMeanMultiple {
		output.Printf("  Volume Multiple:   %.2f\n", cfg.Scanner.VolumeMultiple)
	}
	output.Printf("  Discovery Volume:  %.2fx average\n", cfg.Scanner.DiscoveryVolumeMultiple)
	output.Println()

	output.Bold("Feed")
	output.Printf("  Provider:          %s\n", cfg.Feed.Provider)
	output.Printf("  Timeout:           %s\n", cfg.Feed.Timeout)
	output.Printf("  Rate Limit:        %.1f/s (burst %d)\n", cfg.Feed.RatePerSecond, cfg.Feed.Burst)
	output.Printf("  Breaker:           %d failures, %s cooldown\n", cfg.Feed.BreakerFailures, cfg.Feed.BreakerCooldown)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Backend:           %s\n", cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case store.BackendSQLite:
		output.Printf("  Path:              %s\n", cfg.Storage.SQLitePath)
	case store.BackendFile:
		output.Printf("  Path:              %s\n", cfg.Storage.FilePath)
	case store.BackendRedis:
		output.Printf("  URL:               %s\n", cfg.Storage.RedisURL)
	}
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Flush:             %s\n", cronOrDisabled(cfg.Scheduler.FlushCron))
	output.Printf("  Index Refresh:     %s\n", cronOrDisabled(cfg.Scheduler.IndexRefreshCron))
	output.Printf("  Watchlist Scan:    %s\n", cronOrDisabled(cfg.Scheduler.WatchlistScanCron))
	output.Printf("  Server:            %s\n", cfg.Server.Addr)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:           %v\n", cfg.Notify.Enabled)
	output.Printf("  Webhook:           %v\n", cfg.Notify.Webhook.Enabled)
	output.Printf("  Telegram:          %v\n", cfg.Notify.Telegram.Enabled)
}

func cronOrDisabled(expr string) string {
	if expr == "" {
		return "disabled"
	}
	return expr
}
