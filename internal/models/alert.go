package models

import (
	"time"

	"nifty-breakout/pkg/utils"
)

// AlertType identifies what kind of event fired an alert.
type AlertType string

const (
	// AlertTypeBreakout is a simultaneous high break and volume break.
	AlertTypeBreakout AlertType = "breakout"
)

// Alert represents a fired breakout alert.
type Alert struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Name               string     `json:"name,omitempty"`
	AlertType          AlertType  `json:"alertType"`
	DataSource         DataSource `json:"dataSource"`
	TodayHigh          float64    `json:"todayHigh"`
	TodayVolume        int64      `json:"todayVolume"`
	TodayClose         float64    `json:"todayClose"`
	PrevMaxHigh        float64    `json:"prevMaxHigh"`
	PrevMaxVolume      int64      `json:"prevMaxVolume"`
	HighBreakPercent   float64    `json:"highBreakPercent"`
	VolumeBreakPercent float64    `json:"volumeBreakPercent"`
	TriggeredAt        time.Time  `json:"triggeredAt"`
	Read               bool       `json:"read"`
}

// AlertFromResult builds an unsaved breakout alert from a triggered result.
func AlertFromResult(r ScanResult) Alert {
	return Alert{
		Symbol:             r.Symbol,
		Name:               r.Name,
		AlertType:          AlertTypeBreakout,
		DataSource:         r.DataSource,
		TodayHigh:          r.TodayHigh,
		TodayVolume:        r.TodayVolume,
		TodayClose:         r.TodayClose,
		PrevMaxHigh:        r.PrevMaxHigh,
		PrevMaxVolume:      r.PrevMaxVolume,
		HighBreakPercent:   r.HighBreakPercent,
		VolumeBreakPercent: r.VolumeBreakPercent,
		TriggeredAt:        r.ScannedAt,
	}
}

// TradingDate returns the IST date the alert fired on.
func (a Alert) TradingDate() string {
	return utils.TradingDate(a.TriggeredAt)
}

// DedupKey is the (symbol, type, trading date) tuple that allows at most one
// alert per symbol and type per day.
func (a Alert) DedupKey() string {
	return a.Symbol + "|" + string(a.AlertType) + "|" + a.TradingDate()
}
