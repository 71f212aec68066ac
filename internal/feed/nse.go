package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

const (
	nseSource       = "nse"
	nseUserAgent    = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Mobile/15E148 Safari/604.1"
	nseIndicesPath  = "/api/equity-stockIndices"
	nseWarmUpMaxAge = 5 * time.Minute
)

// NSEConfig configures the NSE client.
type NSEConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   utils.RetryConfig
	Logger  zerolog.Logger
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// NSEClient reads the live index constituent table from nseindia.com. The
// site only answers API calls that carry cookies from a prior page load, so
// the client warms up its cookie jar before the first call and again once
// the cookies are older than nseWarmUpMaxAge.
type NSEClient struct {
	client  *resty.Client
	baseURL string
	retry   utils.RetryConfig
	logger  zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	lastWarmUp time.Time
}

// NewNSEClient creates an NSE client.
func NewNSEClient(cfg NSEConfig) *NSEClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.nseindia.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", nseUserAgent)

	client.OnAfterResponse(decompressMiddleware)

	return &NSEClient{
		client:  client,
		baseURL: baseURL,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// decompressMiddleware inflates brotli and gzip bodies, which NSE sends
// whenever the request advertises them.
func decompressMiddleware(c *resty.Client, resp *resty.Response) error {
	var reader io.Reader
	switch resp.Header().Get("Content-Encoding") {
	case "br":
		reader = brotli.NewReader(bytes.NewReader(resp.Body()))
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(resp.Body()))
		if err != nil {
			// Transport already inflated it
			return nil
		}
		defer gz.Close()
		reader = gz
	default:
		return nil
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	resp.SetBody(decompressed)
	return nil
}

func (n *NSEClient) warmUp(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.lastWarmUp.IsZero() && n.now().Sub(n.lastWarmUp) < nseWarmUpMaxAge {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Referer", "https://www.google.com/").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		Get("/")
	if err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("warmup failed: status %d", resp.StatusCode())
	}

	n.lastWarmUp = n.now()
	return nil
}

func (n *NSEClient) forgetCookies() {
	n.mu.Lock()
	n.lastWarmUp = time.Time{}
	n.mu.Unlock()
}

type nseIndexResponse struct {
	Data []models.IndexRow `json:"data"`
}

// FetchIndexSnapshot implements IndexFetcher.
func (n *NSEClient) FetchIndexSnapshot(ctx context.Context, indexName string) ([]models.IndexRow, error) {
	rows, err := utils.RetryWithResult(ctx, n.retry, func() ([]models.IndexRow, error) {
		if err := n.warmUp(ctx); err != nil {
			return nil, err
		}

		resp, err := n.client.R().
			SetContext(ctx).
			SetHeaders(map[string]string{
				"Accept":          "*/*",
				"Accept-Encoding": "gzip, deflate, br",
				"Referer":         n.baseURL + "/market-data/live-equity-market",
				"sec-fetch-dest":  "empty",
				"sec-fetch-mode":  "cors",
				"sec-fetch-site":  "same-origin",
			}).
			SetQueryParam("index", indexName).
			Get(nseIndicesPath)
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			// Expired cookies show up as 401/403
			n.forgetCookies()
			return nil, fmt.Errorf("status %d", resp.StatusCode())
		}

		var body nseIndexResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("decode index snapshot: %w", err)
		}
		return body.Data, nil
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("index", indexName).Msg("NSE index snapshot failed")
		return nil, apperrors.NewFetchError(nseSource, MethodIndexSnapshot, indexName, err)
	}
	return rows, nil
}
