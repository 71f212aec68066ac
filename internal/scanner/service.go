package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
)

// AlertSink persists triggered results. Add reports whether the alert was
// newly inserted.
type AlertSink interface {
	Add(ctx context.Context, alert *models.Alert) (bool, error)
}

// SnapshotSource serves the bulk index snapshot.
type SnapshotSource interface {
	Get(ctx context.Context) models.IndexSnapshot
}

// BaselineSource resolves baselines for many symbols at once.
type BaselineSource interface {
	GetMany(ctx context.Context, symbols []string) map[string]models.StockBaseline
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Analyzer  *Analyzer
	Alerts    AlertSink
	Snapshots SnapshotSource
	Baselines BaselineSource
	// DiscoveryVolumeMultiple scales the baseline average volume a
	// constituent must exceed to count as a volume surge.
	DiscoveryVolumeMultiple float64
	Logger                  zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Service runs watchlist scans and index refreshes.
type Service struct {
	analyzer          *Analyzer
	alerts            AlertSink
	snapshots         SnapshotSource
	baselines         BaselineSource
	discoveryMultiple float64
	logger            zerolog.Logger
	now               func() time.Time
}

// ScanReport is the outcome of one watchlist scan.
type ScanReport struct {
	Results   []models.ScanResult `json:"results"`
	Alerts    []models.Alert      `json:"alerts"`
	ScannedAt time.Time           `json:"scannedAt"`
}

// Triggered returns the triggered results.
func (r *ScanReport) Triggered() []models.ScanResult {
	var out []models.ScanResult
	for _, res := range r.Results {
		if res.Triggered {
			out = append(out, res)
		}
	}
	return out
}

// IndexReport is the outcome of one index refresh.
type IndexReport struct {
	Snapshot    models.IndexSnapshot `json:"snapshot"`
	Discoveries []models.Discovery   `json:"discoveries"`
}

// Breakouts returns the discoveries classified as breakouts.
func (r *IndexReport) Breakouts() []models.Discovery {
	var out []models.Discovery
	for _, d := range r.Discoveries {
		if d.Breakout {
			out = append(out, d)
		}
	}
	return out
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.DiscoveryVolumeMultiple <= 0 {
		cfg.DiscoveryVolumeMultiple = 1.0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		analyzer:          cfg.Analyzer,
		alerts:            cfg.Alerts,
		snapshots:         cfg.Snapshots,
		baselines:         cfg.Baselines,
		discoveryMultiple: cfg.DiscoveryVolumeMultiple,
		logger:            logging.WithComponent(cfg.Logger, "scanner"),
		now:               cfg.Now,
	}
}

// Scan evaluates entries and hands every triggered result to the alert
// sink. Alerts holds only newly inserted alerts; duplicates of an alert
// already fired today are suppressed. A failing alert write is logged and
// does not fail the scan.
func (s *Service) Scan(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) (*ScanReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &ScanReport{
		Results:   s.analyzer.EvaluateMany(ctx, entries, useIntraday, marketOpen),
		Alerts:    []models.Alert{},
		ScannedAt: s.now(),
	}

	for _, r := range report.Results {
		if !r.Triggered || s.alerts == nil {
			continue
		}
		alert := models.AlertFromResult(r)
		inserted, err := s.alerts.Add(ctx, &alert)
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", r.Symbol).Msg("Failed to store alert")
			continue
		}
		if inserted {
			report.Alerts = append(report.Alerts, alert)
		}
	}

	s.logger.Info().
		Int("symbols", len(entries)).
		Int("triggered", len(report.Triggered())).
		Int("new_alerts", len(report.Alerts)).
		Bool("intraday", useIntraday).
		Msg("Scan complete")
	return report, nil
}

// RefreshIndex reads the index snapshot and classifies every constituent
// against its baseline. Constituents without a baseline are reported with
// Evaluated false.
func (s *Service) RefreshIndex(ctx context.Context) (*IndexReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.snapshots.Get(ctx)

	symbols := make([]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		symbols = append(symbols, row.Symbol)
	}
	baselines := s.baselines.GetMany(ctx, symbols)

	source := models.DataSourceLive
	if snap.Stale {
		source = models.DataSourceStale
	}

	discoveries := make([]models.Discovery, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		b, ok := baselines[row.Symbol]
		var base *models.StockBaseline
		if ok {
			base = &b
		}
		discoveries = append(discoveries, s.discover(row, base, source))
	}

	sort.SliceStable(discoveries, func(i, j int) bool {
		if discoveries[i].Breakout != discoveries[j].Breakout {
			return discoveries[i].Breakout
		}
		return discoveries[i].HighBreakPercent > discoveries[j].HighBreakPercent
	})

	report := &IndexReport{Snapshot: snap, Discoveries: discoveries}
	s.logger.Info().
		Int("constituents", len(snap.Rows)).
		Int("baselines", len(baselines)).
		Int("breakouts", len(report.Breakouts())).
		Bool("stale", snap.Stale).
		Msg("Index refreshed")
	return report, nil
}

func (s *Service) discover(row models.IndexRow, base *models.StockBaseline, source models.DataSource) models.Discovery {
	d := models.Discovery{
		Symbol:     row.Symbol,
		LastPrice:  row.LastPrice,
		PChange:    row.PChange,
		DayHigh:    row.DayHigh,
		Volume:     row.Volume,
		DataSource: source,
	}
	if base == nil {
		return finalizeDiscovery(d)
	}

	d.Evaluated = true
	d.MaxHigh5d = base.MaxHigh5d
	d.AvgVolume5d = base.AvgVolume5d
	d.HighBreakPercent = percentChange(row.DayHigh, base.MaxHigh5d)
	if base.AvgVolume5d > 0 {
		d.VolumeRatio = decimal.NewFromInt(row.Volume).
			Div(decimal.NewFromFloat(base.AvgVolume5d)).
			Round(2).InexactFloat64()
	}
	d.HighBreak = row.DayHigh > base.MaxHigh5d
	d.VolumeSurge = float64(row.Volume) > base.AvgVolume5d*s.discoveryMultiple
	d.Breakout = d.HighBreak && d.VolumeSurge
	return finalizeDiscovery(d)
}

// finalizeDiscovery applies the same freshness gate as finalize.
func finalizeDiscovery(d models.Discovery) models.Discovery {
	if d.DataSource.IsStale() || !d.Evaluated {
		d.Breakout = false
	}
	return d
}
