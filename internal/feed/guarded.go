package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/resilience"
)

// GuardConfig configures the Guarded decorator.
type GuardConfig struct {
	RatePerSecond float64
	Burst         int
	Breaker       resilience.CircuitBreakerConfig
	Logger        zerolog.Logger
}

// Guarded shares one token-bucket limiter across every upstream call and
// keeps one circuit breaker per method. A cancelled limiter wait or an open
// breaker surfaces as ErrUpstreamUnavailable.
type Guarded struct {
	upstream Feed
	limiter  *rate.Limiter
	breakers *resilience.CircuitBreakerRegistry
	logger   zerolog.Logger
}

// NewGuarded wraps upstream.
func NewGuarded(upstream Feed, cfg GuardConfig) *Guarded {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 3
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	logger := logging.WithComponent(cfg.Logger, "feed")
	if cfg.Breaker.IsFailure == nil {
		cfg.Breaker.IsFailure = countsAgainstUpstream
	}
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(method string, from, to resilience.CircuitState) {
			ev := logger.Info()
			if to == resilience.CircuitOpen {
				ev = logger.Warn()
			}
			ev.Str("method", method).Str("from", string(from)).Str("to", string(to)).Msg("Circuit breaker state changed")
		}
	}
	return &Guarded{
		upstream: upstream,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breakers: resilience.NewCircuitBreakerRegistry(cfg.Breaker),
		logger:   logger,
	}
}

// countsAgainstUpstream keeps unknown symbols and caller cancellation from
// tripping a breaker.
func countsAgainstUpstream(err error) bool {
	return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, context.Canceled)
}

func guard[T any](ctx context.Context, g *Guarded, method, symbol string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	if err := g.limiter.Wait(ctx); err != nil {
		err = fmt.Errorf("%s %s: rate limit wait: %w", method, symbol, apperrors.ErrUpstreamUnavailable)
		logging.LogAPICall(g.logger, method, symbol, time.Since(start), err)
		return zero, err
	}

	v, err := resilience.Execute(ctx, g.breakers.Get(method), fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%s %s: %w: %v", method, symbol, apperrors.ErrUpstreamUnavailable, err)
	}
	logging.LogAPICall(g.logger, method, symbol, time.Since(start), err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// FetchHistorical implements HistoricalFetcher.
func (g *Guarded) FetchHistorical(ctx context.Context, symbol string, windowDays int) ([]models.DayBar, error) {
	return guard(ctx, g, MethodHistorical, symbol, func(ctx context.Context) ([]models.DayBar, error) {
		return g.upstream.FetchHistorical(ctx, symbol, windowDays)
	})
}

// FetchCurrentDay implements QuoteFetcher.
func (g *Guarded) FetchCurrentDay(ctx context.Context, symbol string) (*models.LiveQuote, error) {
	return guard(ctx, g, MethodQuote, symbol, func(ctx context.Context) (*models.LiveQuote, error) {
		return g.upstream.FetchCurrentDay(ctx, symbol)
	})
}

// FetchIndexSnapshot implements IndexFetcher.
func (g *Guarded) FetchIndexSnapshot(ctx context.Context, indexName string) ([]models.IndexRow, error) {
	return guard(ctx, g, MethodIndexSnapshot, indexName, func(ctx context.Context) ([]models.IndexRow, error) {
		return g.upstream.FetchIndexSnapshot(ctx, indexName)
	})
}

// BreakerStats reports the state of every method's circuit breaker.
func (g *Guarded) BreakerStats() []resilience.CircuitBreakerStats {
	return g.breakers.AllStats()
}

// ResetBreakers closes every method's circuit breaker.
func (g *Guarded) ResetBreakers() {
	g.breakers.ResetAll()
}
