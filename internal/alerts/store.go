// Package alerts persists fired breakout alerts with at most one alert per
// symbol, alert type and IST trading day.
package alerts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
)

// Backend is the part of the durable store holding alerts. Its insert must
// be atomic with respect to the dedup key.
type Backend interface {
	InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ListAlerts(ctx context.Context) ([]models.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	MarkAllAlertsRead(ctx context.Context) (int, error)
}

// Notifier delivers a newly inserted alert. Delivery is best-effort and
// never fails the insert.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert models.Alert) error
}

// Config configures a Store.
type Config struct {
	Backend  Backend
	Notifier Notifier
	Logger   zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Store is the alert store.
type Store struct {
	backend  Backend
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		backend:  cfg.Backend,
		notifier: cfg.Notifier,
		logger:   logging.WithComponent(cfg.Logger, "alerts"),
		now:      cfg.Now,
	}
}

// Add inserts alert unless one with the same dedup key already exists and
// reports whether it was inserted. A missing ID, type or trigger time is
// filled in; a new alert is always unread.
func (s *Store) Add(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert == nil || strings.TrimSpace(alert.Symbol) == "" {
		return false, apperrors.NewValidationError("symbol", "", "alert symbol is required")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.AlertType == "" {
		alert.AlertType = models.AlertTypeBreakout
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = s.now()
	}
	alert.Read = false

	inserted, err := s.backend.InsertAlertIfAbsent(ctx, alert)
	if err != nil {
		return false, apperrors.Wrapf(err, "adding alert for %s", alert.Symbol)
	}

	if !inserted {
		s.logger.Debug().
			Str("symbol", alert.Symbol).
			Str("dedup_key", alert.DedupKey()).
			Msg("Duplicate alert suppressed")
		return false, nil
	}

	logging.LogAlert(s.logger, alert.ID, alert.Symbol, string(alert.AlertType), alert.HighBreakPercent, alert.VolumeBreakPercent)

	if s.notifier != nil {
		if err := s.notifier.NotifyAlert(ctx, *alert); err != nil {
			s.logger.Warn().Err(err).Str("symbol", alert.Symbol).Msg("Alert notification failed")
		}
	}
	return true, nil
}

// List returns every alert, newest first.
func (s *Store) List(ctx context.Context) ([]models.Alert, error) {
	return s.backend.ListAlerts(ctx)
}

// Unread returns the unread alerts, newest first.
func (s *Store) Unread(ctx context.Context) ([]models.Alert, error) {
	all, err := s.backend.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if !a.Read {
			out = append(out, a)
		}
	}
	return out, nil
}

// MarkRead marks one alert read. Unknown ids return ErrNotFound.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	return s.backend.MarkAlertRead(ctx, id)
}

// MarkAllRead marks every alert read and returns how many changed.
func (s *Store) MarkAllRead(ctx context.Context) (int, error) {
	n, err := s.backend.MarkAllAlertsRead(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("Alerts marked read")
	}
	return n, nil
}
