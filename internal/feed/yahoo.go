package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

const (
	yahooSource    = "yahoo"
	yahooUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// YahooConfig configures the Yahoo Finance chart client.
type YahooConfig struct {
	BaseURL string
	Timeout time.Duration
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// YahooClient reads daily bars and the current-day reading from the Yahoo
// Finance chart API. NSE symbols take the ".NS" suffix.
type YahooClient struct {
	client *resty.Client
	now    func() time.Time
}

// NewYahooClient creates a Yahoo chart client.
func NewYahooClient(cfg YahooConfig) *YahooClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/v8/finance/chart").
		SetTimeout(cfg.Timeout).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": yahooUserAgent,
		})

	return &YahooClient{client: client, now: cfg.Now}
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  *yahooChartError   `json:"error"`
	} `json:"chart"`
}

type yahooChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooChartResult struct {
	Meta       yahooMeta `json:"meta"`
	Timestamp  []int64   `json:"timestamp"`
	Indicators struct {
		Quote []yahooQuote `json:"quote"`
	} `json:"indicators"`
}

type yahooMeta struct {
	Symbol               string  `json:"symbol"`
	RegularMarketTime    int64   `json:"regularMarketTime"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketVolume  int64   `json:"regularMarketVolume"`
	ChartPreviousClose   float64 `json:"chartPreviousClose"`
}

// Missing points arrive as JSON null and decode to zero.
type yahooQuote struct {
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []int64   `json:"volume"`
}

func (y *YahooClient) chart(ctx context.Context, method, symbol string, params map[string]string) (*yahooChartResult, error) {
	var chart yahooChartResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&chart).
		ForceContentType("application/json").
		Get("/" + symbol + ".NS")
	if err != nil {
		return nil, apperrors.NewFetchError(yahooSource, method, symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperrors.NewFetchError(yahooSource, method, symbol, fmt.Errorf("symbol %s: %w", symbol, apperrors.ErrNotFound))
	}
	if !resp.IsSuccess() {
		return nil, apperrors.NewFetchError(yahooSource, method, symbol, fmt.Errorf("status %d", resp.StatusCode()))
	}
	if e := chart.Chart.Error; e != nil {
		err := fmt.Errorf("%s: %s", e.Code, e.Description)
		if e.Code == "Not Found" {
			err = fmt.Errorf("%s: %w", e.Description, apperrors.ErrNotFound)
		}
		return nil, apperrors.NewFetchError(yahooSource, method, symbol, err)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, apperrors.NewFetchError(yahooSource, method, symbol, fmt.Errorf("empty chart result"))
	}
	return &chart.Chart.Result[0], nil
}

// FetchHistorical implements HistoricalFetcher.
func (y *YahooClient) FetchHistorical(ctx context.Context, symbol string, windowDays int) ([]models.DayBar, error) {
	now := y.now()
	from := now.AddDate(0, 0, -windowDays)

	result, err := y.chart(ctx, MethodHistorical, symbol, map[string]string{
		"period1":  strconv.FormatInt(from.Unix(), 10),
		"period2":  strconv.FormatInt(now.Unix(), 10),
		"interval": "1d",
	})
	if err != nil {
		return nil, err
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, apperrors.NewFetchError(yahooSource, MethodHistorical, symbol, fmt.Errorf("no quote indicators"))
	}

	q := result.Indicators.Quote[0]
	bars := make([]models.DayBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.High) || i >= len(q.Volume) || i >= len(q.Open) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		bars = append(bars, models.DayBar{
			Date:   utils.TradingDate(time.Unix(ts, 0)),
			Open:   q.Open[i],
			High:   q.High[i],
			Low:    q.Low[i],
			Close:  q.Close[i],
			Volume: q.Volume[i],
		})
	}
	return bars, nil
}

// FetchCurrentDay implements QuoteFetcher. It returns nil when Yahoo's last
// regular-market reading is not from today's IST session.
func (y *YahooClient) FetchCurrentDay(ctx context.Context, symbol string) (*models.LiveQuote, error) {
	result, err := y.chart(ctx, MethodQuote, symbol, map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return nil, err
	}

	meta := result.Meta
	if meta.RegularMarketTime == 0 || utils.TradingDate(time.Unix(meta.RegularMarketTime, 0)) != utils.TradingDate(y.now()) {
		return nil, nil
	}
	if meta.RegularMarketDayHigh <= 0 {
		return nil, nil
	}

	quote := &models.LiveQuote{
		High:   meta.RegularMarketDayHigh,
		Volume: meta.RegularMarketVolume,
		Close:  meta.RegularMarketPrice,
	}
	if meta.ChartPreviousClose > 0 {
		quote.Change = (meta.RegularMarketPrice - meta.ChartPreviousClose) / meta.ChartPreviousClose * 100
	}
	return quote, nil
}
