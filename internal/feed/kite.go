package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

const (
	kiteSource   = "kite"
	kiteExchange = "NSE"
)

// KiteConfig holds Kite Connect credentials. The access token comes from a
// completed login; this client never runs the login flow itself.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// KiteClient serves daily history and live quotes from Kite Connect.
type KiteClient struct {
	client *kiteconnect.Client
	now    func() time.Time

	mu     sync.RWMutex
	tokens map[string]int // tradingsymbol -> instrument token
}

// NewKiteClient creates a Kite Connect market-data client.
func NewKiteClient(cfg KiteConfig) *KiteClient {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KiteClient{
		client: client,
		now:    cfg.Now,
		tokens: make(map[string]int),
	}
}

// FetchHistorical implements HistoricalFetcher.
func (k *KiteClient) FetchHistorical(ctx context.Context, symbol string, windowDays int) ([]models.DayBar, error) {
	token, err := k.instrumentToken(symbol)
	if err != nil {
		return nil, apperrors.NewFetchError(kiteSource, MethodHistorical, symbol, err)
	}

	to := k.now().In(utils.IndiaLocation)
	from := to.AddDate(0, 0, -windowDays)

	data, err := k.client.GetHistoricalData(token, "day", from, to, false, false)
	if err != nil {
		return nil, apperrors.NewFetchError(kiteSource, MethodHistorical, symbol, err)
	}

	bars := make([]models.DayBar, len(data))
	for i, d := range data {
		bars[i] = models.DayBar{
			Date:   utils.TradingDate(d.Date.Time),
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: int64(d.Volume),
		}
	}
	return bars, nil
}

// FetchCurrentDay implements QuoteFetcher.
func (k *KiteClient) FetchCurrentDay(ctx context.Context, symbol string) (*models.LiveQuote, error) {
	instrument := kiteExchange + ":" + symbol

	quotes, err := k.client.GetQuote(instrument)
	if err != nil {
		return nil, apperrors.NewFetchError(kiteSource, MethodQuote, symbol, err)
	}

	q, ok := quotes[instrument]
	if !ok || q.OHLC.High <= 0 {
		return nil, nil
	}

	quote := &models.LiveQuote{
		High:   q.OHLC.High,
		Volume: int64(q.Volume),
		Close:  q.LastPrice,
	}
	// OHLC.Close is the previous session's close
	if q.OHLC.Close > 0 {
		quote.Change = q.NetChange / q.OHLC.Close * 100
	}
	return quote, nil
}

func (k *KiteClient) instrumentToken(symbol string) (int, error) {
	k.mu.RLock()
	token, ok := k.tokens[symbol]
	loaded := len(k.tokens) > 0
	k.mu.RUnlock()

	if ok {
		return token, nil
	}
	if loaded {
		return 0, fmt.Errorf("instrument %s: %w", symbol, apperrors.ErrNotFound)
	}

	instruments, err := k.client.GetInstrumentsByExchange(kiteExchange)
	if err != nil {
		return 0, fmt.Errorf("failed to get instruments: %w", err)
	}

	k.mu.Lock()
	for _, inst := range instruments {
		k.tokens[inst.Tradingsymbol] = inst.InstrumentToken
	}
	token, ok = k.tokens[symbol]
	k.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("instrument %s: %w", symbol, apperrors.ErrNotFound)
	}
	return token, nil
}
