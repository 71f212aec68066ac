package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

// Feature: nifty-breakout, Property 1: Alert dedup
//
// Property: For any sequence of inserts sharing (symbol, type, IST date),
// exactly one insert returns true and the listing holds exactly one alert
// with that key.
func TestProperty_AlertDedup(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dedup_property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK", "SBIN", "BHARTIARTL", "ITC", "KOTAKBANK", "LT"}

	run := 0
	properties.Property("Dedup: one insert wins per symbol/type/day", prop.ForAll(
		func(symbolIdx int, attempts int, minuteOffsets []int) bool {
			ctx := context.Background()
			run++

			// Distinct day per run keeps runs independent inside one database
			day := time.Date(2020, 1, 1, 9, 15, 0, 0, utils.IndiaLocation).AddDate(0, 0, run)
			symbol := symbols[symbolIdx%len(symbols)]

			wins := 0
			for i := 0; i < attempts; i++ {
				offset := 0
				if len(minuteOffsets) > 0 {
					offset = minuteOffsets[i%len(minuteOffsets)]
				}
				alert := testAlert(fmt.Sprintf("%d-%d", run, i), symbol, day.Add(time.Duration(offset)*time.Minute))
				ok, err := store.InsertAlertIfAbsent(ctx, alert)
				if err != nil {
					t.Logf("Insert failed: %v", err)
					return false
				}
				if ok {
					wins++
				}
			}
			if wins != 1 {
				t.Logf("Expected exactly one winning insert, got %d", wins)
				return false
			}

			alerts, err := store.ListAlerts(ctx)
			if err != nil {
				t.Logf("List failed: %v", err)
				return false
			}
			key := symbol + "|" + string(models.AlertTypeBreakout) + "|" + utils.TradingDate(day)
			matching := 0
			for _, a := range alerts {
				if a.DedupKey() == key {
					matching++
				}
			}
			return matching == 1
		},
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(1, 8),
		// Offsets stay inside the 09:15-23:59 IST window of the same date
		gen.SliceOf(gen.IntRange(0, 880)),
	))

	properties.TestingRun(t)
}
