package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/resilience"
	"nifty-breakout/internal/scanner"
	"nifty-breakout/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScanner struct {
	entries    []models.WatchlistEntry
	intraday   bool
	marketOpen bool
}

func (f *fakeScanner) Scan(ctx context.Context, entries []models.WatchlistEntry, useIntraday, marketOpen bool) (*scanner.ScanReport, error) {
	f.entries = entries
	f.intraday = useIntraday
	f.marketOpen = marketOpen
	results := make([]models.ScanResult, len(entries))
	for i, e := range entries {
		results[i] = models.ScanResult{Symbol: e.Symbol, DataSource: models.DataSourceHistorical}
	}
	return &scanner.ScanReport{Results: results, Alerts: []models.Alert{}}, nil
}

func (f *fakeScanner) RefreshIndex(ctx context.Context) (*scanner.IndexReport, error) {
	return &scanner.IndexReport{
		Snapshot:    models.IndexSnapshot{Stale: true, Rows: []models.IndexRow{{Symbol: "INFY"}}},
		Discoveries: []models.Discovery{{Symbol: "INFY", DataSource: models.DataSourceStale}},
	}, nil
}

type fakeAlerts struct {
	alerts []models.Alert
}

func (f *fakeAlerts) List(ctx context.Context) ([]models.Alert, error) { return f.alerts, nil }

func (f *fakeAlerts) MarkRead(ctx context.Context, id string) error {
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Read = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeAlerts) MarkAllRead(ctx context.Context) (int, error) {
	n := 0
	for i := range f.alerts {
		if !f.alerts[i].Read {
			f.alerts[i].Read = true
			n++
		}
	}
	return n, nil
}

type fakeStats struct{}

func (fakeStats) RecentStats() models.RecentStats {
	return models.RecentStats{APICalls: 5, RecentRatePerSecond: 5.0 / 60.0, Last60sRecords: []models.APICallRecord{}}
}

func (fakeStats) CumulativeStats(ctx context.Context) (*models.PersistedCallStats, error) {
	return &models.PersistedCallStats{
		APICalls:        3,
		CacheHits:       1,
		MethodBreakdown: map[string]int64{"historical": 3},
		Counters:        map[string]int64{"snapshot.fetch.success": 2},
	}, nil
}

type fakeWatchlist struct {
	entries []models.WatchlistEntry
}

func (f *fakeWatchlist) AddToWatchlist(ctx context.Context, e models.WatchlistEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeWatchlist) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	for i, e := range f.entries {
		if e.Symbol == symbol {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeWatchlist) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	return f.entries, nil
}

type fakeBreakers []resilience.CircuitBreakerStats

func (f fakeBreakers) BreakerStats() []resilience.CircuitBreakerStats { return f }

func (f fakeBreakers) ResetBreakers() {
	for i := range f {
		f[i].State = resilience.CircuitClosed
	}
}

type fixture struct {
	router    *gin.Engine
	scanner   *fakeScanner
	alerts    *fakeAlerts
	watchlist *fakeWatchlist
}

func newFixture(breakers fakeBreakers) *fixture {
	f := &fixture{
		scanner: &fakeScanner{},
		alerts: &fakeAlerts{alerts: []models.Alert{
			{ID: "a1", Symbol: "INFY"},
			{ID: "a2", Symbol: "TCS", Read: true},
		}},
		watchlist: &fakeWatchlist{entries: []models.WatchlistEntry{{Symbol: "SBIN"}}},
	}
	// Monday 10:00 IST, market open
	now := time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation)
	f.router = NewRouter(Deps{
		Scanner:   f.scanner,
		Alerts:    f.alerts,
		Stats:     fakeStats{},
		Watchlist: f.watchlist,
		Breakers:  breakers,
		Now:       func() time.Time { return now },
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	return out
}

func TestScanExplicitSymbols(t *testing.T) {
	f := newFixture(nil)

	w := f.do(t, http.MethodPost, "/api/scan", `{"symbols":[" infy ","tcs"],"intraday":true,"marketOpen":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.scanner.entries) != 2 || f.scanner.entries[0].Symbol != "INFY" {
		t.Errorf("entries = %+v", f.scanner.entries)
	}
	if !f.scanner.intraday || f.scanner.marketOpen {
		t.Errorf("intraday/marketOpen = %v/%v, want true/false", f.scanner.intraday, f.scanner.marketOpen)
	}
	results := decode(t, w)["results"].([]interface{})
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestScanDefaultsToWatchlistAndMarketClock(t *testing.T) {
	f := newFixture(nil)

	w := f.do(t, http.MethodPost, "/api/scan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.scanner.entries) != 1 || f.scanner.entries[0].Symbol != "SBIN" {
		t.Errorf("entries = %+v, want watchlist", f.scanner.entries)
	}
	if !f.scanner.marketOpen {
		t.Error("marketOpen = false at 10:00 IST Monday")
	}
}

func TestScanBadBody(t *testing.T) {
	f := newFixture(nil)
	if w := f.do(t, http.MethodPost, "/api/scan", `{"symbols":`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestScanRejectsMalformedSymbol(t *testing.T) {
	f := newFixture(nil)
	if w := f.do(t, http.MethodPost, "/api/scan", `{"symbols":["INFY","<script>"]}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if f.scanner.entries != nil {
		t.Errorf("scanner called with %+v", f.scanner.entries)
	}
}

func TestIndex(t *testing.T) {
	f := newFixture(nil)

	w := f.do(t, http.MethodGet, "/api/index", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	snap := body["snapshot"].(map[string]interface{})
	if snap["stale"] != true {
		t.Errorf("snapshot = %v, want stale", snap)
	}
}

func TestAlertsRoutes(t *testing.T) {
	f := newFixture(nil)

	w := f.do(t, http.MethodGet, "/api/alerts?unread=true", "")
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("unread count = %v, want 1", got)
	}

	if w := f.do(t, http.MethodPost, "/api/alerts/a1/read", ""); w.Code != http.StatusOK {
		t.Errorf("mark read status = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/alerts/nope/read", ""); w.Code != http.StatusNotFound {
		t.Errorf("mark unknown status = %d, want 404", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/alerts/read-all", "")
	if got := decode(t, w)["updated"]; got != float64(0) {
		t.Errorf("read-all updated = %v, want 0", got)
	}
}

func TestStatsRoutes(t *testing.T) {
	f := newFixture(nil)

	w := f.do(t, http.MethodGet, "/api/stats", "")
	if got := decode(t, w)["apiCalls"]; got != float64(5) {
		t.Errorf("apiCalls = %v, want 5", got)
	}

	w = f.do(t, http.MethodGet, "/api/stats/cumulative", "")
	body := decode(t, w)
	if body["cacheHitRate"] != float64(25) {
		t.Errorf("cacheHitRate = %v, want 25", body["cacheHitRate"])
	}
	counters := body["counters"].(map[string]interface{})
	if counters["snapshot.fetch.success"] != float64(2) {
		t.Errorf("counters = %v", counters)
	}
}

func TestWatchlistRoutes(t *testing.T) {
	f := newFixture(nil)

	if w := f.do(t, http.MethodPost, "/api/watchlist", `{"symbol":"reliance","name":"Reliance"}`); w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/watchlist", `{"symbol":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty symbol status = %d, want 400", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/watchlist", "")
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("count = %v, want 2", got)
	}

	if w := f.do(t, http.MethodDelete, "/api/watchlist/sbin", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/watchlist/sbin", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestHealthReportsOpenBreaker(t *testing.T) {
	f := newFixture(fakeBreakers{
		{Name: "historical", State: resilience.CircuitClosed},
		{Name: "index_snapshot", State: resilience.CircuitOpen},
	})

	w := f.do(t, http.MethodGet, "/api/health", "")
	body := decode(t, w)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	if body["marketOpen"] != true || body["tradingDay"] != "2024-03-11" {
		t.Errorf("body = %v", body)
	}
}

func TestResetBreakers(t *testing.T) {
	f := newFixture(fakeBreakers{{Name: "quote", State: resilience.CircuitOpen}})

	w := f.do(t, http.MethodPost, "/api/health/breakers/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, f.do(t, http.MethodGet, "/api/health", "")); body["status"] != "ok" {
		t.Errorf("status after reset = %v, want ok", body["status"])
	}
}

func TestScanRateLimited(t *testing.T) {
	f := newFixture(nil)

	limited := false
	for i := 0; i < clientBurst+5; i++ {
		if w := f.do(t, http.MethodGet, "/api/index", ""); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("no request was rate limited")
	}
}
