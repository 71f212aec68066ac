// Package feed provides the upstream market-data clients: Yahoo Finance for
// daily history and live quotes, NSE for the bulk index snapshot, and Kite
// Connect as an alternative history and quote provider.
package feed

import (
	"context"

	"github.com/rs/zerolog"

	"nifty-breakout/internal/config"
	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/resilience"
)

// Method names used for accounting, logging and circuit breakers.
const (
	MethodHistorical    = "historical"
	MethodQuote         = "quote"
	MethodIndexSnapshot = "index_snapshot"
)

// HistoricalFetcher fetches daily bars covering the last windowDays
// calendar days. Bars may be unsorted and may include an unfinished session.
type HistoricalFetcher interface {
	FetchHistorical(ctx context.Context, symbol string, windowDays int) ([]models.DayBar, error)
}

// QuoteFetcher fetches the in-progress reading for today's session.
// A nil quote or an error both mean no live reading is available.
type QuoteFetcher interface {
	FetchCurrentDay(ctx context.Context, symbol string) (*models.LiveQuote, error)
}

// IndexFetcher fetches every row of a bulk index snapshot, including the
// aggregate index row.
type IndexFetcher interface {
	FetchIndexSnapshot(ctx context.Context, indexName string) ([]models.IndexRow, error)
}

// Feed is the complete upstream surface.
type Feed interface {
	HistoricalFetcher
	QuoteFetcher
	IndexFetcher
}

// Composite assembles a Feed from independent providers.
type Composite struct {
	Historical HistoricalFetcher
	Quotes     QuoteFetcher
	Index      IndexFetcher
}

// FetchHistorical implements HistoricalFetcher.
func (c Composite) FetchHistorical(ctx context.Context, symbol string, windowDays int) ([]models.DayBar, error) {
	return c.Historical.FetchHistorical(ctx, symbol, windowDays)
}

// FetchCurrentDay implements QuoteFetcher.
func (c Composite) FetchCurrentDay(ctx context.Context, symbol string) (*models.LiveQuote, error) {
	return c.Quotes.FetchCurrentDay(ctx, symbol)
}

// FetchIndexSnapshot implements IndexFetcher.
func (c Composite) FetchIndexSnapshot(ctx context.Context, indexName string) ([]models.IndexRow, error) {
	return c.Index.FetchIndexSnapshot(ctx, indexName)
}

// NewFromConfig builds the configured providers and wraps them in a Guarded
// feed. The NSE client always serves the index snapshot.
func NewFromConfig(cfg *config.Config, logger zerolog.Logger) (*Guarded, error) {
	nse := NewNSEClient(NSEConfig{
		BaseURL: cfg.Feed.NSEBaseURL,
		Timeout: cfg.Feed.Timeout,
		Logger:  logger,
	})

	var upstream Composite
	upstream.Index = nse

	switch cfg.Feed.Provider {
	case "kite":
		creds := cfg.Credentials.Kite
		if creds.APIKey == "" || creds.AccessToken == "" {
			return nil, apperrors.Wrap(apperrors.ErrNotAuthenticated, "kite provider needs api_key and access_token")
		}
		kite := NewKiteClient(KiteConfig{
			APIKey:      creds.APIKey,
			AccessToken: creds.AccessToken,
		})
		upstream.Historical = kite
		upstream.Quotes = kite
	default:
		yahoo := NewYahooClient(YahooConfig{
			BaseURL: cfg.Feed.YahooBaseURL,
			Timeout: cfg.Feed.Timeout,
		})
		upstream.Historical = yahoo
		upstream.Quotes = yahoo
	}

	return NewGuarded(upstream, GuardConfig{
		RatePerSecond: cfg.Feed.RatePerSecond,
		Burst:         cfg.Feed.Burst,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Feed.BreakerFailures,
			SuccessThreshold: 1,
			Cooldown:         cfg.Feed.BreakerCooldown,
		},
		Logger: logger,
	}), nil
}
