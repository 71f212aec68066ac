package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-breakout/internal/accounting"
	"nifty-breakout/internal/feed"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
)

// SnapshotTTL is how long a fetched index snapshot is served without
// asking upstream again.
const SnapshotTTL = 3 * time.Minute

// Durable counter names maintained by the snapshot cache.
const (
	CounterSnapshotAttempt = "snapshot.fetch.attempt"
	CounterSnapshotSuccess = "snapshot.fetch.success"
	CounterSnapshotFailure = "snapshot.fetch.failure"
)

var errEmptySnapshot = errors.New("index snapshot has no constituent rows")

// CounterStore is the part of the durable store that holds named counters.
type CounterStore interface {
	IncrementCounter(ctx context.Context, name string, delta int64) error
}

// SnapshotConfig configures a SnapshotCache.
type SnapshotConfig struct {
	Fetcher   feed.IndexFetcher
	IndexName string
	Recorder  accounting.Recorder
	Counters  CounterStore
	Logger    zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// SnapshotStats are the in-process refresh counters.
type SnapshotStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// SnapshotCache serves the bulk index snapshot. A failed refresh keeps the
// previous rows, marks them stale and leaves FetchedAt where it was, so the
// next read after the failure tries upstream again.
type SnapshotCache struct {
	fetcher   feed.IndexFetcher
	indexName string
	recorder  accounting.Recorder
	counters  CounterStore
	logger    zerolog.Logger
	now       func() time.Time

	// mu is held across the refresh so concurrent readers share one fetch.
	mu      sync.Mutex
	current *models.IndexSnapshot
	stats   SnapshotStats
}

// NewSnapshotCache creates a SnapshotCache.
func NewSnapshotCache(cfg SnapshotConfig) *SnapshotCache {
	if cfg.IndexName == "" {
		cfg.IndexName = "NIFTY 50"
	}
	if cfg.Recorder == nil {
		cfg.Recorder = accounting.NopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SnapshotCache{
		fetcher:   cfg.Fetcher,
		indexName: cfg.IndexName,
		recorder:  cfg.Recorder,
		counters:  cfg.Counters,
		logger:    logging.WithComponent(cfg.Logger, "snapshot_cache"),
		now:       cfg.Now,
	}
}

// Get returns the current snapshot, refreshing it once the TTL has passed.
func (s *SnapshotCache) Get(ctx context.Context) models.IndexSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current != nil && s.current.FetchSuccess && now.Sub(s.current.FetchedAt) < SnapshotTTL {
		s.recorder.Record(models.CallTypeCache, feed.MethodIndexSnapshot, "")
		return cloneSnapshot(*s.current)
	}

	s.recorder.Record(models.CallTypeAPI, feed.MethodIndexSnapshot, "")
	s.stats.Attempts++
	s.incrementCounter(ctx, CounterSnapshotAttempt)

	rows, err := s.fetcher.FetchIndexSnapshot(ctx, s.indexName)
	if err == nil {
		rows = s.constituents(rows)
		if len(rows) == 0 {
			err = errEmptySnapshot
		}
	}

	if err != nil {
		s.stats.Failures++
		s.incrementCounter(ctx, CounterSnapshotFailure)

		if s.current == nil {
			s.current = &models.IndexSnapshot{Rows: []models.IndexRow{}}
		}
		s.current.FetchSuccess = false
		s.current.Stale = true

		s.logger.Warn().Err(err).
			Str("index", s.indexName).
			Int("carried_rows", len(s.current.Rows)).
			Msg("Index snapshot refresh failed, serving stale rows")
		return cloneSnapshot(*s.current)
	}

	s.stats.Successes++
	s.incrementCounter(ctx, CounterSnapshotSuccess)
	s.current = &models.IndexSnapshot{
		Rows:         rows,
		FetchedAt:    now,
		FetchSuccess: true,
		Stale:        false,
	}

	s.logger.Debug().Str("index", s.indexName).Int("rows", len(rows)).Msg("Index snapshot refreshed")
	return cloneSnapshot(*s.current)
}

// Stats returns the in-process refresh counters.
func (s *SnapshotCache) Stats() SnapshotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// constituents drops the aggregate index row.
func (s *SnapshotCache) constituents(rows []models.IndexRow) []models.IndexRow {
	out := make([]models.IndexRow, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" || strings.EqualFold(strings.TrimSpace(r.Symbol), s.indexName) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// incrementCounter is best effort; a counter write never fails a read.
func (s *SnapshotCache) incrementCounter(ctx context.Context, name string) {
	if s.counters == nil {
		return
	}
	if err := s.counters.IncrementCounter(context.WithoutCancel(ctx), name, 1); err != nil {
		s.logger.Warn().Err(err).Str("counter", name).Msg("Failed to increment durable counter")
	}
}

func cloneSnapshot(snap models.IndexSnapshot) models.IndexSnapshot {
	rows := make([]models.IndexRow, len(snap.Rows))
	copy(rows, snap.Rows)
	snap.Rows = rows
	return snap
}
