// Package models provides domain models for the breakout scanner.
package models

import (
	"time"
)

// DataSource tags how trustworthy the "today" reading of a result is.
type DataSource string

const (
	// DataSourceLive means today's reading came from a live quote.
	DataSourceLive DataSource = "live"
	// DataSourceHistorical means the last completed session was used, as expected.
	DataSourceHistorical DataSource = "historical"
	// DataSourceStale means live data was expected but unavailable.
	DataSourceStale DataSource = "stale"
)

// IsStale returns true if the source must not confirm a breakout.
func (d DataSource) IsStale() bool {
	return d == DataSourceStale
}

// DayBar represents one completed trading session for one symbol.
type DayBar struct {
	Date   string  `json:"date"` // YYYY-MM-DD, IST
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// LiveQuote is the in-progress reading for the current session.
type LiveQuote struct {
	High   float64 `json:"high"`
	Volume int64   `json:"volume"`
	Close  float64 `json:"close"`
	Change float64 `json:"change"` // percent vs previous close
}

// Usable reports whether the quote can stand in for today's session.
func (q *LiveQuote) Usable() bool {
	return q != nil && q.High > 0
}

// IndexRow is one constituent line of a bulk index snapshot.
type IndexRow struct {
	Symbol        string  `json:"symbol"`
	Open          float64 `json:"open"`
	DayHigh       float64 `json:"dayHigh"`
	DayLow        float64 `json:"dayLow"`
	LastPrice     float64 `json:"lastPrice"`
	PreviousClose float64 `json:"previousClose"`
	Change        float64 `json:"change"`
	PChange       float64 `json:"pChange"`
	Volume        int64   `json:"totalTradedVolume"`
}

// IndexSnapshot is a point-in-time read of every constituent of the index.
// Stale means Rows were carried over from an earlier successful refresh.
type IndexSnapshot struct {
	Rows         []IndexRow `json:"rows"`
	FetchedAt    time.Time  `json:"fetchedAt"`
	FetchSuccess bool       `json:"fetchSuccess"`
	Stale        bool       `json:"stale"`
}

// StockBaseline is the trailing 5-session reference for one symbol.
type StockBaseline struct {
	Symbol       string  `json:"symbol"`
	MaxHigh5d    float64 `json:"maxHigh5d"`
	AvgVolume5d  float64 `json:"avgVolume5d"`
	ComputedDate string  `json:"computedDate"`
}

// WatchlistEntry is a tracked symbol.
type WatchlistEntry struct {
	Symbol  string    `json:"symbol" yaml:"symbol"`
	Name    string    `json:"name,omitempty" yaml:"name,omitempty"`
	AddedAt time.Time `json:"addedAt" yaml:"-"`
}
