package baseline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

// fakeHistory serves fixed bars per symbol and counts calls.
type fakeHistory struct {
	mu    sync.Mutex
	bars  map[string][]models.DayBar
	fail  map[string]bool
	calls map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		bars:  map[string][]models.DayBar{},
		fail:  map[string]bool{},
		calls: map[string]int{},
	}
}

func (f *fakeHistory) Get(ctx context.Context, symbol string, depthDays int) ([]models.DayBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.fail[symbol] {
		return nil, errors.New("upstream failed")
	}
	return f.bars[symbol], nil
}

func bars(highs []float64, volumes []int64) []models.DayBar {
	out := make([]models.DayBar, len(highs))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, utils.IndiaLocation)
	for i := range highs {
		out[i] = models.DayBar{
			Date:   start.AddDate(0, 0, i).Format(utils.DateLayout),
			High:   highs[i],
			Volume: volumes[i],
		}
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetOneComputesOverLastFiveBars(t *testing.T) {
	h := newFakeHistory()
	h.bars["INFY"] = bars(
		[]float64{200, 90, 95, 100, 102, 101},
		[]int64{9999, 500, 600, 700, 800, 900},
	)
	e := NewEngine(Config{History: h, Now: fixedClock(time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation))})

	b, err := e.GetOne(context.Background(), "INFY")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if b == nil {
		t.Fatal("GetOne() = nil, want baseline")
	}
	if b.MaxHigh5d != 102 {
		t.Errorf("MaxHigh5d = %v, want 102", b.MaxHigh5d)
	}
	if b.AvgVolume5d != 700 {
		t.Errorf("AvgVolume5d = %v, want 700", b.AvgVolume5d)
	}
	if b.ComputedDate != "2024-03-11" {
		t.Errorf("ComputedDate = %s, want 2024-03-11", b.ComputedDate)
	}
}

func TestGetOneCachesPerTradingDay(t *testing.T) {
	h := newFakeHistory()
	h.bars["TCS"] = bars([]float64{1, 2, 3, 4, 5}, []int64{1, 2, 3, 4, 5})

	now := time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation)
	e := NewEngine(Config{History: h, Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.GetOne(ctx, "TCS"); err != nil {
			t.Fatal(err)
		}
	}
	if h.calls["TCS"] != 1 {
		t.Errorf("history calls = %d, want 1", h.calls["TCS"])
	}

	now = now.AddDate(0, 0, 1)
	if _, err := e.GetOne(ctx, "TCS"); err != nil {
		t.Fatal(err)
	}
	if h.calls["TCS"] != 2 {
		t.Errorf("history calls next day = %d, want 2", h.calls["TCS"])
	}
}

func TestGetOneInsufficientHistory(t *testing.T) {
	h := newFakeHistory()
	h.bars["NEWCO"] = bars([]float64{10, 11, 12}, []int64{100, 100, 100})
	e := NewEngine(Config{History: h})

	b, err := e.GetOne(context.Background(), "NEWCO")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if b != nil {
		t.Errorf("GetOne() = %+v, want nil", b)
	}
}

func TestGetManyPartialResults(t *testing.T) {
	h := newFakeHistory()
	full := bars([]float64{1, 2, 3, 4, 5}, []int64{10, 20, 30, 40, 50})
	for i := 0; i < 12; i++ {
		h.bars[fmt.Sprintf("S%02d", i)] = full
	}
	h.bars["SHORT"] = full[:3]
	h.fail["BROKEN"] = true

	e := NewEngine(Config{History: h})
	symbols := []string{"SHORT", "BROKEN"}
	for i := 0; i < 12; i++ {
		symbols = append(symbols, fmt.Sprintf("S%02d", i))
	}

	got := e.GetMany(context.Background(), symbols)
	if len(got) != 12 {
		t.Errorf("GetMany() returned %d baselines, want 12", len(got))
	}
	if _, ok := got["SHORT"]; ok {
		t.Error("SHORT present, want absent for insufficient history")
	}
	if _, ok := got["BROKEN"]; ok {
		t.Error("BROKEN present, want absent after fetch failure")
	}
	if got["S00"].MaxHigh5d != 5 || got["S00"].AvgVolume5d != 30 {
		t.Errorf("S00 = %+v", got["S00"])
	}

	// A second pass is served from the same-day cache
	e.GetMany(context.Background(), symbols)
	if h.calls["S00"] != 1 {
		t.Errorf("S00 history calls = %d, want 1", h.calls["S00"])
	}
	if h.calls["BROKEN"] != 2 {
		t.Errorf("BROKEN history calls = %d, want 2 (failures are not cached)", h.calls["BROKEN"])
	}
}

func TestComputeAverageIsExact(t *testing.T) {
	b := Compute("X", bars([]float64{1, 1, 1}, []int64{1, 1, 2}), "2024-03-11")
	want := 4.0 / 3.0
	if diff := b.AvgVolume5d - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("AvgVolume5d = %v, want %v", b.AvgVolume5d, want)
	}
}
