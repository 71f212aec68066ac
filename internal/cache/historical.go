// Package cache holds the per-instance market-data caches: daily history
// keyed by IST trading date, and the short-lived bulk index snapshot.
package cache

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"nifty-breakout/internal/accounting"
	"nifty-breakout/internal/feed"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

// HistoricalConfig configures a HistoricalCache.
type HistoricalConfig struct {
	Fetcher  feed.HistoricalFetcher
	Recorder accounting.Recorder
	Logger   zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

type historicalEntry struct {
	tradingDate    string
	requestedDepth int
	bars           []models.DayBar
}

// HistoricalCache caches completed day bars per symbol. An entry is valid
// only while its IST trading date is today and its depth matches the
// request; there is no TTL. Fetch failures propagate and are never answered
// from an older entry, unlike the index snapshot.
type HistoricalCache struct {
	fetcher  feed.HistoricalFetcher
	recorder accounting.Recorder
	logger   zerolog.Logger
	now      func() time.Time
	entries  *gocache.Cache
}

// NewHistoricalCache creates a HistoricalCache.
func NewHistoricalCache(cfg HistoricalConfig) *HistoricalCache {
	if cfg.Recorder == nil {
		cfg.Recorder = accounting.NopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HistoricalCache{
		fetcher:  cfg.Fetcher,
		recorder: cfg.Recorder,
		logger:   logging.WithComponent(cfg.Logger, "historical_cache"),
		now:      cfg.Now,
		entries:  gocache.New(gocache.NoExpiration, 0),
	}
}

// Get returns up to depthDays completed bars for symbol, oldest first.
// Each call records exactly one accounting event.
func (h *HistoricalCache) Get(ctx context.Context, symbol string, depthDays int) ([]models.DayBar, error) {
	now := h.now()
	today := utils.TradingDate(now)

	if v, ok := h.entries.Get(symbol); ok {
		entry := v.(*historicalEntry)
		switch {
		case entry.tradingDate != today:
			h.logger.Debug().Str("symbol", symbol).Str("cached_date", entry.tradingDate).Msg("Historical entry from an earlier day")
		case entry.requestedDepth != depthDays:
			h.logger.Debug().
				Str("symbol", symbol).
				Int("cached_depth", entry.requestedDepth).
				Int("depth", depthDays).
				Msg("Historical entry depth mismatch, refetching")
		default:
			h.recorder.Record(models.CallTypeCache, feed.MethodHistorical, symbol)
			return cloneBars(entry.bars), nil
		}
	}

	h.recorder.Record(models.CallTypeAPI, feed.MethodHistorical, symbol)

	// Twice the depth in calendar days absorbs weekends and holidays
	raw, err := h.fetcher.FetchHistorical(ctx, symbol, 2*depthDays)
	if err != nil {
		return nil, err
	}

	bars := NormalizeBars(raw, now)
	if len(bars) > depthDays {
		bars = bars[len(bars)-depthDays:]
	}

	h.entries.Set(symbol, &historicalEntry{
		tradingDate:    today,
		requestedDepth: depthDays,
		bars:           bars,
	}, gocache.NoExpiration)

	h.logger.Debug().
		Str("symbol", symbol).
		Int("depth", depthDays).
		Int("bars", len(bars)).
		Msg("Historical bars cached")

	return cloneBars(bars), nil
}

// Len returns the number of cached symbols.
func (h *HistoricalCache) Len() int {
	return h.entries.ItemCount()
}

// NormalizeBars keeps only completed, usable sessions: a bar dated today is
// dropped until the session closes at 15:30 IST, bars without a positive
// high or with zero volume are dropped, and duplicate dates keep the last
// occurrence. The result is sorted by date ascending.
func NormalizeBars(raw []models.DayBar, now time.Time) []models.DayBar {
	today := utils.TradingDate(now)
	todayClosed := utils.SessionClosedAt(now)

	byDate := make(map[string]models.DayBar, len(raw))
	for _, b := range raw {
		if b.Date == "" || b.High <= 0 || b.Volume == 0 {
			continue
		}
		if b.Date > today || (b.Date == today && !todayClosed) {
			continue
		}
		byDate[b.Date] = b
	}

	bars := make([]models.DayBar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	// YYYY-MM-DD sorts chronologically as a string
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars
}

func cloneBars(bars []models.DayBar) []models.DayBar {
	out := make([]models.DayBar, len(bars))
	copy(out, bars)
	return out
}
