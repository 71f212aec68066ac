// Package accounting counts upstream calls and cache hits. Recent activity
// lives in an in-process ring buffer; cumulative totals are flushed to the
// durable store in deltas.
package accounting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
)

// DefaultCapacity is the number of recent records kept in memory.
const DefaultCapacity = 500

// recentWindow is the span RecentStats reports on.
const recentWindow = 60 * time.Second

// Recorder accepts accounting events. Implementations must never block or
// fail the caller.
type Recorder interface {
	Record(callType models.CallType, method, symbol string)
}

// NopRecorder discards every event.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(models.CallType, string, string) {}

// StatsStore is the part of the durable store the accountant writes to.
type StatsStore interface {
	IncrementCallStats(ctx context.Context, delta models.CallStatsDelta, flushedAt time.Time) error
	GetCallStats(ctx context.Context) (*models.PersistedCallStats, error)
}

// Config configures an Accountant.
type Config struct {
	Capacity int
	Store    StatsStore
	Logger   zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Accountant implements Recorder and owns the pending durable deltas.
type Accountant struct {
	store  StatsStore
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	ring    []models.APICallRecord
	head    int // next write position
	size    int
	pending models.CallStatsDelta
}

// New creates an Accountant.
func New(cfg Config) *Accountant {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Accountant{
		store:   cfg.Store,
		logger:  logging.WithComponent(cfg.Logger, "accounting"),
		now:     cfg.Now,
		ring:    make([]models.APICallRecord, cfg.Capacity),
		pending: newDelta(),
	}
}

func newDelta() models.CallStatsDelta {
	return models.CallStatsDelta{MethodBreakdown: make(map[string]int64)}
}

// Record implements Recorder. The oldest record is evicted once the ring is
// full.
func (a *Accountant) Record(callType models.CallType, method, symbol string) {
	rec := models.APICallRecord{
		Timestamp: a.now(),
		Type:      callType,
		Method:    method,
		Symbol:    symbol,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ring[a.head] = rec
	a.head = (a.head + 1) % len(a.ring)
	if a.size < len(a.ring) {
		a.size++
	}

	switch callType {
	case models.CallTypeAPI:
		a.pending.APICalls++
		a.pending.MethodBreakdown[method]++
	case models.CallTypeCache:
		a.pending.CacheHits++
	}
}

// records returns the ring contents oldest first. Caller holds a.mu.
func (a *Accountant) records() []models.APICallRecord {
	out := make([]models.APICallRecord, 0, a.size)
	start := (a.head - a.size + len(a.ring)) % len(a.ring)
	for i := 0; i < a.size; i++ {
		out = append(out, a.ring[(start+i)%len(a.ring)])
	}
	return out
}

// RecentStats summarizes the ring buffer. APICalls and CacheHits cover
// every buffered record; the rate covers only the last 60 seconds.
func (a *Accountant) RecentStats() models.RecentStats {
	a.mu.Lock()
	records := a.records()
	a.mu.Unlock()

	cutoff := a.now().Add(-recentWindow)
	stats := models.RecentStats{Last60sRecords: []models.APICallRecord{}}
	var recentAPI int
	for _, r := range records {
		switch r.Type {
		case models.CallTypeAPI:
			stats.APICalls++
		case models.CallTypeCache:
			stats.CacheHits++
		}
		if r.Timestamp.After(cutoff) {
			stats.Last60sRecords = append(stats.Last60sRecords, r)
			if r.Type == models.CallTypeAPI {
				recentAPI++
			}
		}
	}
	stats.RecentRatePerSecond = float64(recentAPI) / recentWindow.Seconds()
	return stats
}

// Pending returns a copy of the deltas not yet flushed.
func (a *Accountant) Pending() models.CallStatsDelta {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyDelta(a.pending)
}

func copyDelta(d models.CallStatsDelta) models.CallStatsDelta {
	out := models.CallStatsDelta{
		APICalls:        d.APICalls,
		CacheHits:       d.CacheHits,
		MethodBreakdown: make(map[string]int64, len(d.MethodBreakdown)),
	}
	for k, v := range d.MethodBreakdown {
		out.MethodBreakdown[k] = v
	}
	return out
}

// Flush moves pending deltas into the durable store. The pending counters
// are cleared before the write; on failure the snapshot is added back so the
// next flush retries it.
func (a *Accountant) Flush(ctx context.Context) error {
	a.mu.Lock()
	snapshot := a.pending
	a.pending = newDelta()
	a.mu.Unlock()

	if snapshot.IsZero() || a.store == nil {
		if a.store == nil {
			a.requeue(snapshot)
		}
		return nil
	}

	if err := a.store.IncrementCallStats(ctx, snapshot, a.now()); err != nil {
		a.requeue(snapshot)
		a.logger.Warn().Err(err).
			Int64("api_calls", snapshot.APICalls).
			Int64("cache_hits", snapshot.CacheHits).
			Msg("Call stats flush failed, deltas re-queued")
		return err
	}

	a.logger.Debug().
		Int64("api_calls", snapshot.APICalls).
		Int64("cache_hits", snapshot.CacheHits).
		Msg("Call stats flushed")
	return nil
}

func (a *Accountant) requeue(d models.CallStatsDelta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending.APICalls += d.APICalls
	a.pending.CacheHits += d.CacheHits
	for k, v := range d.MethodBreakdown {
		a.pending.MethodBreakdown[k] += v
	}
}

// CumulativeStats reads the durable totals.
func (a *Accountant) CumulativeStats(ctx context.Context) (*models.PersistedCallStats, error) {
	if a.store == nil {
		return &models.PersistedCallStats{
			MethodBreakdown: map[string]int64{},
			Counters:        map[string]int64{},
		}, nil
	}
	return a.store.GetCallStats(ctx)
}
