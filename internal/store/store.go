// Package store provides the durable storage port and its backends.
package store

import (
	"context"
	"time"

	"nifty-breakout/internal/models"
)

// Store is the cross-instance durable state: the watchlist, the alert list,
// cumulative call stats and named counters. Backends are interchangeable and
// selected at startup.
type Store interface {
	// Watchlist
	AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) error
	RemoveFromWatchlist(ctx context.Context, symbol string) error
	GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error)

	// Alerts
	// InsertAlertIfAbsent inserts the alert unless one with the same dedup key
	// exists. The check and the insert are atomic at the backend level.
	InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ListAlerts(ctx context.Context) ([]models.Alert, error)
	// MarkAlertRead returns ErrNotFound for an unknown id.
	MarkAlertRead(ctx context.Context, id string) error
	MarkAllAlertsRead(ctx context.Context) (int, error)

	// Call stats
	IncrementCallStats(ctx context.Context, delta models.CallStatsDelta, flushedAt time.Time) error
	GetCallStats(ctx context.Context) (*models.PersistedCallStats, error)
	IncrementCounter(ctx context.Context, name string, delta int64) error

	// Lifecycle
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
)
