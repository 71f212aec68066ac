package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// DateLayout is the layout of a trading date key.
const DateLayout = "2006-01-02"

// Session boundaries in minutes since IST midnight.
const (
	sessionOpenMinute  = 9*60 + 15
	sessionCloseMinute = 15*60 + 30
)

// TradingDate returns the IST calendar date of t as YYYY-MM-DD.
// Caches keyed by trading date roll over at Indian midnight whatever the
// server timezone is.
func TradingDate(t time.Time) string {
	return t.In(IndiaLocation).Format(DateLayout)
}

// Today returns the current IST trading date.
func Today() string {
	return TradingDate(time.Now())
}

// IsTradingWeekday reports whether t falls on a weekday in IST.
func IsTradingWeekday(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func minuteOfDay(t time.Time) int {
	ist := t.In(IndiaLocation)
	return ist.Hour()*60 + ist.Minute()
}

// IsMarketOpenAt returns true if the cash session is running at t
// (Mon-Fri, 09:15-15:30 IST). Exchange holidays are not modelled.
func IsMarketOpenAt(t time.Time) bool {
	if !IsTradingWeekday(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= sessionOpenMinute && m < sessionCloseMinute
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}

// SessionClosedAt reports whether the session of t's IST date has finished,
// i.e. a day bar dated that day is complete.
func SessionClosedAt(t time.Time) bool {
	if !IsTradingWeekday(t) {
		return true
	}
	return minuteOfDay(t) >= sessionCloseMinute
}

// GetNextMarketOpen returns the next market opening time after now.
func GetNextMarketOpen(now time.Time) time.Time {
	now = now.In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	// Skip weekends
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
