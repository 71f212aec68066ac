// Package baseline derives the trailing 5-session high/volume reference for
// each symbol, computed at most once per symbol per IST trading day.
package baseline

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

const (
	// Window is the number of completed sessions in a baseline.
	Window = 5
	// DefaultDepth is the history depth requested from the Historical Cache.
	DefaultDepth = 25
	// DefaultBatchSize bounds how many symbols are computed concurrently.
	DefaultBatchSize = 5
)

// HistorySource supplies completed day bars, oldest first.
type HistorySource interface {
	Get(ctx context.Context, symbol string, depthDays int) ([]models.DayBar, error)
}

// Config configures an Engine.
type Config struct {
	History   HistorySource
	Depth     int
	BatchSize int
	Logger    zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Engine computes and caches baselines. Entries from earlier days are
// superseded by the date check, never evicted.
type Engine struct {
	history   HistorySource
	depth     int
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
	baselines *gocache.Cache
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Depth < Window {
		cfg.Depth = DefaultDepth
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		history:   cfg.History,
		depth:     cfg.Depth,
		batchSize: cfg.BatchSize,
		logger:    logging.WithComponent(cfg.Logger, "baseline"),
		now:       cfg.Now,
		baselines: gocache.New(gocache.NoExpiration, 0),
	}
}

// cached returns today's baseline for symbol, if computed.
func (e *Engine) cached(symbol, today string) (*models.StockBaseline, bool) {
	v, ok := e.baselines.Get(symbol)
	if !ok {
		return nil, false
	}
	b := v.(models.StockBaseline)
	if b.ComputedDate != today {
		return nil, false
	}
	return &b, true
}

// GetOne returns the baseline for symbol. A nil baseline with a nil error
// means there is not enough history to compute one.
func (e *Engine) GetOne(ctx context.Context, symbol string) (*models.StockBaseline, error) {
	today := utils.TradingDate(e.now())
	if b, ok := e.cached(symbol, today); ok {
		return b, nil
	}

	bars, err := e.history.Get(ctx, symbol, e.depth)
	if err != nil {
		return nil, err
	}
	if len(bars) < Window {
		e.logger.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Baseline unavailable, insufficient history")
		return nil, nil
	}

	b := Compute(symbol, bars[len(bars)-Window:], today)
	e.baselines.Set(symbol, b, gocache.NoExpiration)
	return &b, nil
}

// Compute builds a baseline from the given window of bars.
func Compute(symbol string, window []models.DayBar, date string) models.StockBaseline {
	var maxHigh float64
	total := decimal.Zero
	for _, bar := range window {
		if bar.High > maxHigh {
			maxHigh = bar.High
		}
		total = total.Add(decimal.NewFromInt(bar.Volume))
	}

	var avg float64
	if len(window) > 0 {
		avg = total.Div(decimal.NewFromInt(int64(len(window)))).InexactFloat64()
	}

	return models.StockBaseline{
		Symbol:       symbol,
		MaxHigh5d:    maxHigh,
		AvgVolume5d:  avg,
		ComputedDate: date,
	}
}

// GetMany returns baselines for every symbol that has one. Symbols that
// fail or lack history are left out of the map.
func (e *Engine) GetMany(ctx context.Context, symbols []string) map[string]models.StockBaseline {
	today := utils.TradingDate(e.now())
	out := make(map[string]models.StockBaseline, len(symbols))

	var needed []string
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if b, ok := e.cached(sym, today); ok {
			out[sym] = *b
			continue
		}
		needed = append(needed, sym)
	}

	var computed, unavailable int
	for start := 0; start < len(needed); start += e.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + e.batchSize
		if end > len(needed) {
			end = len(needed)
		}

		batch := needed[start:end]
		results := make([]*models.StockBaseline, len(batch))
		var wg sync.WaitGroup
		for i, sym := range batch {
			wg.Add(1)
			go func(i int, sym string) {
				defer wg.Done()
				b, err := e.GetOne(ctx, sym)
				if err != nil {
					e.logger.Warn().Err(err).Str("symbol", sym).Msg("Baseline computation failed")
					return
				}
				results[i] = b
			}(i, sym)
		}
		wg.Wait()

		for i, b := range results {
			if b == nil {
				unavailable++
				continue
			}
			computed++
			out[batch[i]] = *b
		}
	}

	e.logger.Debug().
		Int("requested", len(seen)).
		Int("computed", computed).
		Int("unavailable", unavailable).
		Msg("Baselines resolved")
	return out
}
