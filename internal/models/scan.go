package models

import "time"

// ScanResult is the classification of one symbol on one scan.
type ScanResult struct {
	Symbol             string     `json:"symbol"`
	Name               string     `json:"name"`
	DataSource         DataSource `json:"dataSource"`
	TodayHigh          float64    `json:"todayHigh"`
	TodayVolume        int64      `json:"todayVolume"`
	TodayClose         float64    `json:"todayClose"`
	TodayChange        float64    `json:"todayChange"`
	PrevMaxHigh        float64    `json:"prevMaxHigh"`
	PrevMaxVolume      int64      `json:"prevMaxVolume"`
	HighBreakPercent   float64    `json:"highBreakPercent"`
	VolumeBreakPercent float64    `json:"volumeBreakPercent"`
	HighBreak          bool       `json:"highBreak"`
	VolumeBreak        bool       `json:"volumeBreak"`
	Triggered          bool       `json:"triggered"`
	ScannedAt          time.Time  `json:"scannedAt"`
}

// Discovery is the breakout classification of one index constituent
// against its baseline. Evaluated is false when no baseline was available.
type Discovery struct {
	Symbol           string     `json:"symbol"`
	LastPrice        float64    `json:"lastPrice"`
	PChange          float64    `json:"pChange"`
	DayHigh          float64    `json:"dayHigh"`
	Volume           int64      `json:"volume"`
	MaxHigh5d        float64    `json:"maxHigh5d"`
	AvgVolume5d      float64    `json:"avgVolume5d"`
	HighBreakPercent float64    `json:"highBreakPercent"`
	VolumeRatio      float64    `json:"volumeRatio"`
	HighBreak        bool       `json:"highBreak"`
	VolumeSurge      bool       `json:"volumeSurge"`
	Breakout         bool       `json:"breakout"`
	Evaluated        bool       `json:"evaluated"`
	DataSource       DataSource `json:"dataSource"`
}
