// Package api exposes the scanner over a thin JSON HTTP surface.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nifty-breakout/internal/cache"
	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/resilience"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/pkg/utils"
)

// Scanner runs scans and index refreshes.
type Scanner interface {
	Scan(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) (*scanner.ScanReport, error)
	RefreshIndex(ctx context.Context) (*scanner.IndexReport, error)
}

// Alerts reads and acknowledges alerts.
type Alerts interface {
	List(ctx context.Context) ([]models.Alert, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int, error)
}

// Stats reports call accounting.
type Stats interface {
	RecentStats() models.RecentStats
	CumulativeStats(ctx context.Context) (*models.PersistedCallStats, error)
}

// Watchlist manages tracked symbols.
type Watchlist interface {
	AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) error
	RemoveFromWatchlist(ctx context.Context, symbol string) error
	GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error)
}

// Breakers reports and resets upstream circuit breakers.
type Breakers interface {
	BreakerStats() []resilience.CircuitBreakerStats
	ResetBreakers()
}

// SnapshotStats reports index snapshot refresh counters.
type SnapshotStats interface {
	Stats() cache.SnapshotStats
}

// Deps are the services behind the routes.
type Deps struct {
	Scanner   Scanner
	Alerts    Alerts
	Stats     Stats
	Watchlist Watchlist
	Breakers  Breakers
	Snapshots SnapshotStats
	Logger    zerolog.Logger
	// Now is the clock for the market-open default; defaults to time.Now
	Now func() time.Time
}

// Handler serves the routes.
type Handler struct {
	deps    Deps
	logger  zerolog.Logger
	started time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := logging.WithComponent(deps.Logger, "api")

	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger))

	h := &Handler{deps: deps, logger: logger, started: deps.Now()}
	SetupRoutes(r.Group("/api"), h)
	return r
}

// SetupRoutes registers the handlers under group.
func SetupRoutes(group *gin.RouterGroup, h *Handler) {
	group.GET("/health", h.Health)
	group.POST("/health/breakers/reset", h.ResetBreakers)

	limited := group.Group("", rateLimiter())
	{
		limited.POST("/scan", h.Scan)
		limited.GET("/index", h.Index)
	}

	alerts := group.Group("/alerts")
	{
		alerts.GET("", h.ListAlerts)
		alerts.POST("/read-all", h.MarkAllRead)
		alerts.POST("/:id/read", h.MarkRead)
	}

	stats := group.Group("/stats")
	{
		stats.GET("", h.RecentStats)
		stats.GET("/cumulative", h.CumulativeStats)
	}

	watchlist := group.Group("/watchlist")
	{
		watchlist.GET("", h.GetWatchlist)
		watchlist.POST("", h.AddToWatchlist)
		watchlist.DELETE("/:symbol", h.RemoveFromWatchlist)
	}
}

// respondError maps domain errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrConfigInvalid):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ScanRequest is the body of POST /api/scan. An empty symbol list scans the
// watchlist; a missing marketOpen is taken from the market clock.
type ScanRequest struct {
	Symbols    []string `json:"symbols"`
	Intraday   bool     `json:"intraday"`
	MarketOpen *bool    `json:"marketOpen"`
}

// Scan handles POST /api/scan.
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	var entries []models.WatchlistEntry
	if len(req.Symbols) > 0 {
		for _, raw := range req.Symbols {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			symbol, err := models.NormalizeSymbol(raw)
			if err != nil {
				h.respondError(c, err)
				return
			}
			entries = append(entries, models.WatchlistEntry{Symbol: symbol})
		}
	} else {
		wl, err := h.deps.Watchlist.GetWatchlist(ctx)
		if err != nil {
			h.respondError(c, err)
			return
		}
		entries = wl
	}

	marketOpen := utils.IsMarketOpenAt(h.deps.Now())
	if req.MarketOpen != nil {
		marketOpen = *req.MarketOpen
	}

	report, err := h.deps.Scanner.Scan(ctx, entries, req.Intraday, marketOpen)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Index handles GET /api/index.
func (h *Handler) Index(c *gin.Context) {
	report, err := h.deps.Scanner.RefreshIndex(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListAlerts handles GET /api/alerts. ?unread=true filters read alerts.
func (h *Handler) ListAlerts(c *gin.Context) {
	alerts, err := h.deps.Alerts.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if c.Query("unread") == "true" {
		unread := make([]models.Alert, 0, len(alerts))
		for _, a := range alerts {
			if !a.Read {
				unread = append(unread, a)
			}
		}
		alerts = unread
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// MarkRead handles POST /api/alerts/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Alerts.MarkRead(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
}

// MarkAllRead handles POST /api/alerts/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.deps.Alerts.MarkAllRead(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// RecentStats handles GET /api/stats.
func (h *Handler) RecentStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Stats.RecentStats())
}

// CumulativeStats handles GET /api/stats/cumulative.
func (h *Handler) CumulativeStats(c *gin.Context) {
	stats, err := h.deps.Stats.CumulativeStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"apiCalls":        stats.APICalls,
		"cacheHits":       stats.CacheHits,
		"cacheHitRate":    stats.CacheHitRate(),
		"lastFlushed":     stats.LastFlushed,
		"methodBreakdown": stats.MethodBreakdown,
		"counters":        stats.Counters,
	})
}

// GetWatchlist handles GET /api/watchlist.
func (h *Handler) GetWatchlist(c *gin.Context) {
	entries, err := h.deps.Watchlist.GetWatchlist(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": entries, "count": len(entries)})
}

// AddToWatchlist handles POST /api/watchlist.
func (h *Handler) AddToWatchlist(c *gin.Context) {
	var entry models.WatchlistEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol, err := models.NormalizeSymbol(entry.Symbol)
	if err != nil {
		h.respondError(c, err)
		return
	}
	entry.Symbol = symbol
	entry.AddedAt = h.deps.Now()

	if err := h.deps.Watchlist.AddToWatchlist(c.Request.Context(), entry); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveFromWatchlist handles DELETE /api/watchlist/:symbol.
func (h *Handler) RemoveFromWatchlist(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := h.deps.Watchlist.RemoveFromWatchlist(c.Request.Context(), symbol); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health handles GET /api/health.
func (h *Handler) Health(c *gin.Context) {
	now := h.deps.Now()
	body := gin.H{
		"status":     "ok",
		"uptime":     now.Sub(h.started).Round(time.Second).String(),
		"marketOpen": utils.IsMarketOpenAt(now),
		"tradingDay": utils.TradingDate(now),
	}

	if h.deps.Breakers != nil {
		breakers := h.deps.Breakers.BreakerStats()
		for _, b := range breakers {
			if b.State == resilience.CircuitOpen {
				body["status"] = "degraded"
			}
		}
		body["breakers"] = breakers
	}
	if h.deps.Snapshots != nil {
		body["snapshot"] = h.deps.Snapshots.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// ResetBreakers handles POST /api/health/breakers/reset.
func (h *Handler) ResetBreakers(c *gin.Context) {
	if h.deps.Breakers == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no upstream breakers configured"})
		return
	}
	h.deps.Breakers.ResetBreakers()
	h.logger.Info().Msg("Circuit breakers reset")
	c.JSON(http.StatusOK, gin.H{"breakers": h.deps.Breakers.BreakerStats()})
}
