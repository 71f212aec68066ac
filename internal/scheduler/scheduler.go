// Package scheduler runs the periodic jobs: accounting flush, index refresh
// and the optional watchlist scan.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"nifty-breakout/internal/config"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/pkg/utils"
)

// jobTimeout bounds a single job run.
const jobTimeout = 2 * time.Minute

// Flusher moves pending accounting deltas into the durable store.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Runner is the scan service surface the jobs drive.
type Runner interface {
	Scan(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) (*scanner.ScanReport, error)
	RefreshIndex(ctx context.Context) (*scanner.IndexReport, error)
}

// WatchlistSource lists the tracked symbols.
type WatchlistSource interface {
	GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error)
}

// Config configures a Scheduler.
type Config struct {
	Jobs      config.SchedulerConfig
	Flusher   Flusher
	Runner    Runner
	Watchlist WatchlistSource
	Logger    zerolog.Logger
	// Now is the clock used for the market-open flag; defaults to time.Now
	Now func() time.Time
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      config.SchedulerConfig
	flusher   Flusher
	runner    Runner
	watchlist WatchlistSource
	logger    zerolog.Logger
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Scheduler. Jobs are not registered until RegisterAll.
func New(cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := logging.WithComponent(cfg.Logger, "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(utils.IndiaLocation),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		jobs:      cfg.Jobs,
		flusher:   cfg.Flusher,
		runner:    cfg.Runner,
		watchlist: cfg.Watchlist,
		logger:    logger,
		now:       cfg.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterAll registers every configured job. An empty expression disables
// the job.
func (s *Scheduler) RegisterAll() error {
	if s.jobs.FlushCron != "" && s.flusher != nil {
		if _, err := s.cron.AddFunc(s.jobs.FlushCron, s.flushTask); err != nil {
			return fmt.Errorf("register flush task: %w", err)
		}
	}
	if s.jobs.IndexRefreshCron != "" && s.runner != nil {
		if _, err := s.cron.AddFunc(s.jobs.IndexRefreshCron, s.indexTask); err != nil {
			return fmt.Errorf("register index refresh task: %w", err)
		}
	}
	if s.jobs.WatchlistScanCron != "" && s.runner != nil && s.watchlist != nil {
		if _, err := s.cron.AddFunc(s.jobs.WatchlistScanCron, s.watchlistTask); err != nil {
			return fmt.Errorf("register watchlist scan task: %w", err)
		}
	}
	return nil
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", s.Entries()).Msg("Scheduler started")
}

// Stop waits for running jobs, then flushes accounting one last time.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running jobs")
	}
	s.cancel()

	var err error
	if s.flusher != nil {
		if err = s.flusher.Flush(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Final accounting flush failed")
		}
	}
	s.logger.Info().Msg("Scheduler stopped")
	return err
}

// RunIndexNow runs the index refresh job immediately.
func (s *Scheduler) RunIndexNow() {
	s.indexTask()
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, jobTimeout)
}

func (s *Scheduler) flushTask() {
	ctx, cancel := s.jobContext()
	defer cancel()
	// Flush logs and re-queues on failure
	_ = s.flusher.Flush(ctx)
}

func (s *Scheduler) indexTask() {
	ctx, cancel := s.jobContext()
	defer cancel()
	logger := logging.WithOperation(s.logger, "index_refresh")

	report, err := s.runner.RefreshIndex(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Index refresh failed")
		return
	}
	for _, d := range report.Breakouts() {
		logger.Info().
			Str("symbol", d.Symbol).
			Float64("high_break_pct", d.HighBreakPercent).
			Float64("volume_ratio", d.VolumeRatio).
			Msg("Index breakout discovered")
	}
}

func (s *Scheduler) watchlistTask() {
	ctx, cancel := s.jobContext()
	defer cancel()
	logger := logging.WithOperation(s.logger, "watchlist_scan")

	entries, err := s.watchlist.GetWatchlist(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load watchlist")
		return
	}
	if len(entries) == 0 {
		logger.Debug().Msg("Watchlist empty, nothing to scan")
		return
	}

	marketOpen := utils.IsMarketOpenAt(s.now())
	report, err := s.runner.Scan(ctx, entries, true, marketOpen)
	if err != nil {
		logger.Error().Err(err).Msg("Watchlist scan failed")
		return
	}
	logger.Info().Int("symbols", len(entries)).Int("alerts", len(report.Alerts)).Msg("Watchlist scan complete")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
