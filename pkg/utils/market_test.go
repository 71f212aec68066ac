package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTradingDateUsesIST(t *testing.T) {
	// 20:00 UTC on the 4th is 01:30 IST on the 5th.
	utc := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	if got := TradingDate(utc); got != "2024-03-05" {
		t.Errorf("TradingDate(%v) = %s, want 2024-03-05", utc, got)
	}

	// 18:00 UTC is 23:30 IST, still the same date.
	utc = time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	if got := TradingDate(utc); got != "2024-03-04" {
		t.Errorf("TradingDate(%v) = %s, want 2024-03-04", utc, got)
	}
}

func TestIsMarketOpenAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2024, 3, 4, 9, 14, 0, 0, IndiaLocation), false},
		{"at open", time.Date(2024, 3, 4, 9, 15, 0, 0, IndiaLocation), true},
		{"midday", time.Date(2024, 3, 4, 12, 0, 0, 0, IndiaLocation), true},
		{"at close", time.Date(2024, 3, 4, 15, 30, 0, 0, IndiaLocation), false},
		{"saturday", time.Date(2024, 3, 9, 11, 0, 0, 0, IndiaLocation), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpenAt(tt.at); got != tt.want {
				t.Errorf("IsMarketOpenAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestSessionClosedAt(t *testing.T) {
	if SessionClosedAt(time.Date(2024, 3, 4, 15, 0, 0, 0, IndiaLocation)) {
		t.Error("session should still be running at 15:00 IST")
	}
	if !SessionClosedAt(time.Date(2024, 3, 4, 15, 31, 0, 0, IndiaLocation)) {
		t.Error("session should be closed at 15:31 IST")
	}
	if !SessionClosedAt(time.Date(2024, 3, 10, 10, 0, 0, 0, IndiaLocation)) {
		t.Error("sunday has no running session")
	}
}

func TestGetNextMarketOpenSkipsWeekend(t *testing.T) {
	fri := time.Date(2024, 3, 8, 16, 0, 0, 0, IndiaLocation)
	next := GetNextMarketOpen(fri)
	if next.Weekday() != time.Monday || next.Hour() != 9 || next.Minute() != 15 {
		t.Errorf("next open = %v, want Monday 09:15", next)
	}
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("boom")
		}
		return 42, nil
	})
	if err != nil || got != 42 || calls != 3 {
		t.Fatalf("got (%d, %v) after %d calls, want (42, nil) after 3", got, err, calls)
	}

	permanent := errors.New("permanent")
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls = 0
	_, err = RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("non-retryable error retried: calls=%d err=%v", calls, err)
	}
}
