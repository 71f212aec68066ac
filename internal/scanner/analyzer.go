// Package scanner classifies symbols as breakouts by comparing today's
// reading with the trailing reference window.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nifty-breakout/internal/accounting"
	"nifty-breakout/internal/feed"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
)

const (
	// DefaultDepth is the history depth requested per evaluation.
	DefaultDepth = 15
	// ReferenceBars is the size of the reference window.
	ReferenceBars = 5
	// MinBars is the reference window plus one "today" candidate.
	MinBars = ReferenceBars + 1
	// DefaultConcurrency bounds EvaluateMany workers.
	DefaultConcurrency = 8
)

// HistorySource supplies completed day bars, oldest first.
type HistorySource interface {
	Get(ctx context.Context, symbol string, depthDays int) ([]models.DayBar, error)
}

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	History     HistorySource
	Quotes      feed.QuoteFetcher
	Recorder    accounting.Recorder
	Rule        VolumeRule
	Depth       int
	Concurrency int
	Logger      zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Analyzer evaluates symbols. It never returns an error: any failure
// degrades to an untriggered result for that symbol alone.
type Analyzer struct {
	history     HistorySource
	quotes      feed.QuoteFetcher
	recorder    accounting.Recorder
	rule        VolumeRule
	depth       int
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.Recorder == nil {
		cfg.Recorder = accounting.NopRecorder{}
	}
	if cfg.Rule == nil {
		cfg.Rule = MaxVolumeRule{}
	}
	if cfg.Depth < MinBars {
		cfg.Depth = DefaultDepth
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{
		history:     cfg.History,
		quotes:      cfg.Quotes,
		recorder:    cfg.Recorder,
		rule:        cfg.Rule,
		depth:       cfg.Depth,
		concurrency: cfg.Concurrency,
		logger:      logging.WithComponent(cfg.Logger, "analyzer"),
		now:         cfg.Now,
	}
}

// Rule returns the active volume rule.
func (a *Analyzer) Rule() VolumeRule {
	return a.rule
}

// reading is the "today" side of a comparison.
type reading struct {
	high   float64
	volume int64
	close  float64
	change float64
}

// Evaluate classifies one symbol.
func (a *Analyzer) Evaluate(ctx context.Context, symbol, name string, useIntraday, marketOpen bool) (result models.ScanResult) {
	logger := logging.WithSymbol(a.logger, symbol)
	scannedAt := a.now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Evaluation panicked, returning empty result")
			result = notEvaluated(symbol, name, scannedAt)
		}
	}()

	bars, err := a.history.Get(ctx, symbol, a.depth)
	if err != nil {
		logger.Warn().Err(err).Msg("History unavailable, symbol skipped")
		return notEvaluated(symbol, name, scannedAt)
	}
	if len(bars) < MinBars {
		logger.Debug().Int("bars", len(bars)).Msg("Insufficient history, symbol skipped")
		return notEvaluated(symbol, name, scannedAt)
	}

	last := bars[len(bars)-1]
	today := reading{
		high:   last.High,
		volume: last.Volume,
		close:  last.Close,
		change: percentChange(last.Close, bars[len(bars)-2].Close),
	}
	reference := bars[len(bars)-MinBars : len(bars)-1]
	source := models.DataSourceHistorical

	if useIntraday {
		live := a.currentDay(ctx, symbol)
		switch {
		case live.Usable():
			today = reading{high: live.High, volume: live.Volume, close: live.Close, change: live.Change}
			// The live session is not among the completed bars
			reference = bars[len(bars)-ReferenceBars:]
			source = models.DataSourceLive
		case marketOpen:
			source = models.DataSourceStale
		}
	}

	return finalize(a.classify(symbol, name, today, reference, source, scannedAt))
}

// currentDay asks for today's live reading; any failure yields nil.
func (a *Analyzer) currentDay(ctx context.Context, symbol string) *models.LiveQuote {
	if a.quotes == nil {
		return nil
	}
	a.recorder.Record(models.CallTypeAPI, feed.MethodQuote, symbol)
	q, err := a.quotes.FetchCurrentDay(ctx, symbol)
	if err != nil {
		a.logger.Debug().Err(err).Str("symbol", symbol).Msg("Live quote unavailable")
		return nil
	}
	return q
}

func (a *Analyzer) classify(symbol, name string, today reading, reference []models.DayBar, source models.DataSource, at time.Time) models.ScanResult {
	prevHigh := maxHigh(reference)
	prevVolume := maxVolume(reference)

	highBreak := today.high > prevHigh
	volumeBreak := a.rule.Break(today.volume, reference)

	return models.ScanResult{
		Symbol:             symbol,
		Name:               name,
		DataSource:         source,
		TodayHigh:          today.high,
		TodayVolume:        today.volume,
		TodayClose:         today.close,
		TodayChange:        today.change,
		PrevMaxHigh:        prevHigh,
		PrevMaxVolume:      prevVolume,
		HighBreakPercent:   percentChange(today.high, prevHigh),
		VolumeBreakPercent: percentChange(float64(today.volume), float64(prevVolume)),
		HighBreak:          highBreak,
		VolumeBreak:        volumeBreak,
		Triggered:          highBreak && volumeBreak,
		ScannedAt:          at,
	}
}

// finalize is the single place a result's trigger is gated on data
// freshness. Every result leaving the analyzer passes through it.
func finalize(r models.ScanResult) models.ScanResult {
	if r.DataSource.IsStale() {
		r.Triggered = false
	}
	return r
}

// notEvaluated is the zero-valued result for a symbol that could not be
// classified.
func notEvaluated(symbol, name string, at time.Time) models.ScanResult {
	return finalize(models.ScanResult{
		Symbol:     symbol,
		Name:       name,
		DataSource: models.DataSourceHistorical,
		ScannedAt:  at,
	})
}

// percentChange returns (value-base)/base as a percentage rounded to two
// decimals, or 0 when base is not positive.
func percentChange(value, base float64) float64 {
	if base <= 0 {
		return 0
	}
	v := decimal.NewFromFloat(value)
	b := decimal.NewFromFloat(base)
	return v.Sub(b).Div(b).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

// EvaluateMany classifies every entry concurrently. Results keep the order
// of entries.
func (a *Analyzer) EvaluateMany(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) []models.ScanResult {
	results := make([]models.ScanResult, len(entries))
	if len(entries) == 0 {
		return results
	}

	work := make(chan int, len(entries))
	for i := range entries {
		work <- i
	}
	close(work)

	workers := a.concurrency
	if workers > len(entries) {
		workers = len(entries)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				e := entries[i]
				if ctx.Err() != nil {
					results[i] = notEvaluated(e.Symbol, e.Name, a.now())
					continue
				}
				results[i] = a.Evaluate(ctx, e.Symbol, e.Name, useIntraday, marketOpen)
			}
		}()
	}
	wg.Wait()

	a.logger.Debug().
		Int("symbols", len(entries)).
		Bool("intraday", useIntraday).
		Bool("market_open", marketOpen).
		Str("volume_rule", a.rule.Name()).
		Msg("Batch evaluated")
	return results
}
