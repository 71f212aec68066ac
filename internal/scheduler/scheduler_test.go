package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nifty-breakout/internal/config"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/pkg/utils"
)

type fakeFlusher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFlusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRunner struct {
	mu         sync.Mutex
	scans      int
	refreshes  int
	intraday   bool
	marketOpen bool
	entries    []models.WatchlistEntry
}

func (f *fakeRunner) Scan(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) (*scanner.ScanReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	f.entries = entries
	f.intraday = useIntraday
	f.marketOpen = marketOpen
	return &scanner.ScanReport{}, nil
}

func (f *fakeRunner) RefreshIndex(ctx context.Context) (*scanner.IndexReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return &scanner.IndexReport{Discoveries: []models.Discovery{{Symbol: "INFY", Breakout: true}}}, nil
}

type fakeWatchlist []models.WatchlistEntry

func (f fakeWatchlist) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	return f, nil
}

func TestRegisterAll(t *testing.T) {
	s := New(Config{
		Jobs: config.SchedulerConfig{
			FlushCron:        "0 * * * * *",
			IndexRefreshCron: "0 */3 9-15 * * 1-5",
		},
		Flusher: &fakeFlusher{},
		Runner:  &fakeRunner{},
	})
	if err := s.RegisterAll(); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	// The watchlist scan is disabled by its empty expression
	if s.Entries() != 2 {
		t.Errorf("Entries() = %d, want 2", s.Entries())
	}
}

func TestRegisterAllRejectsBadExpression(t *testing.T) {
	s := New(Config{
		Jobs:    config.SchedulerConfig{FlushCron: "every minute"},
		Flusher: &fakeFlusher{},
	})
	if err := s.RegisterAll(); err == nil {
		t.Error("RegisterAll() = nil, want error")
	}
}

func TestStopRunsFinalFlush(t *testing.T) {
	f := &fakeFlusher{}
	s := New(Config{Jobs: config.SchedulerConfig{FlushCron: "@every 1h"}, Flusher: f})
	if err := s.RegisterAll(); err != nil {
		t.Fatal(err)
	}
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.count() != 1 {
		t.Errorf("flushes = %d, want 1", f.count())
	}
}

func TestStopReportsFlushFailure(t *testing.T) {
	f := &fakeFlusher{err: errors.New("store down")}
	s := New(Config{Flusher: f})
	s.Start()

	if err := s.Stop(context.Background()); err == nil {
		t.Error("Stop() = nil, want flush error")
	}
}

func TestWatchlistTaskUsesMarketClock(t *testing.T) {
	r := &fakeRunner{}
	open := time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation) // Monday
	s := New(Config{
		Runner:    r,
		Watchlist: fakeWatchlist{{Symbol: "INFY"}, {Symbol: "TCS"}},
		Now:       func() time.Time { return open },
	})

	s.watchlistTask()

	if r.scans != 1 || len(r.entries) != 2 {
		t.Fatalf("scans = %d entries = %d, want 1/2", r.scans, len(r.entries))
	}
	if !r.intraday || !r.marketOpen {
		t.Errorf("intraday/marketOpen = %v/%v, want true/true", r.intraday, r.marketOpen)
	}

	s.now = func() time.Time { return open.Add(8 * time.Hour) }
	s.watchlistTask()
	if r.marketOpen {
		t.Error("marketOpen = true after the close")
	}
}

func TestWatchlistTaskSkipsEmptyWatchlist(t *testing.T) {
	r := &fakeRunner{}
	s := New(Config{Runner: r, Watchlist: fakeWatchlist{}})

	s.watchlistTask()
	if r.scans != 0 {
		t.Errorf("scans = %d, want 0", r.scans)
	}
}

func TestRunIndexNow(t *testing.T) {
	r := &fakeRunner{}
	s := New(Config{Runner: r})

	s.RunIndexNow()
	if r.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", r.refreshes)
	}
}
