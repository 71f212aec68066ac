package alerts

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
	"nifty-breakout/internal/store"
	"nifty-breakout/pkg/utils"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func breakout(symbol string, at time.Time) *models.Alert {
	a := models.AlertFromResult(models.ScanResult{
		Symbol:             symbol,
		DataSource:         models.DataSourceHistorical,
		TodayHigh:          110,
		TodayVolume:        1200,
		PrevMaxHigh:        102,
		PrevMaxVolume:      900,
		HighBreakPercent:   7.84,
		VolumeBreakPercent: 33.33,
		Triggered:          true,
		ScannedAt:          at,
	})
	return &a
}

func TestAddAssignsIDAndDedups(t *testing.T) {
	s := New(Config{Backend: newSQLite(t)})
	ctx := context.Background()
	morning := time.Date(2024, 3, 11, 9, 30, 0, 0, utils.IndiaLocation)

	first := breakout("INFY", morning)
	ok, err := s.Add(ctx, first)
	if err != nil || !ok {
		t.Fatalf("Add() = %v, %v; want true", ok, err)
	}
	if first.ID == "" {
		t.Error("Add() left ID empty")
	}

	ok, err = s.Add(ctx, breakout("INFY", morning.Add(5*time.Hour)))
	if err != nil || ok {
		t.Errorf("same-day Add() = %v, %v; want false", ok, err)
	}

	ok, err = s.Add(ctx, breakout("INFY", morning.AddDate(0, 0, 1)))
	if err != nil || !ok {
		t.Errorf("next-day Add() = %v, %v; want true", ok, err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("List() = %d alerts, want 2", len(list))
	}
	if !list[0].TriggeredAt.After(list[1].TriggeredAt) {
		t.Error("List() not sorted newest first")
	}
}

// The IST date decides the key: 23:00 UTC on the 10th is the 11th in India.
func TestAddDedupUsesISTDate(t *testing.T) {
	s := New(Config{Backend: newSQLite(t)})
	ctx := context.Background()

	lateUTC := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	if ok, _ := s.Add(ctx, breakout("TCS", lateUTC)); !ok {
		t.Fatal("first Add() = false")
	}
	sameISTDay := time.Date(2024, 3, 11, 14, 0, 0, 0, utils.IndiaLocation)
	if ok, _ := s.Add(ctx, breakout("TCS", sameISTDay)); ok {
		t.Error("Add() on same IST date = true, want false")
	}
}

func TestAddConcurrentAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 11, 0, 0, 0, utils.IndiaLocation)

	// Two store instances share one redis, as two processes would
	var instances []*Store
	for i := 0; i < 2; i++ {
		r, err := store.NewRedisStore(ctx, "redis://"+mr.Addr())
		if err != nil {
			t.Fatalf("NewRedisStore() error = %v", err)
		}
		t.Cleanup(func() { r.Close() })
		instances = append(instances, New(Config{Backend: r}))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			ok, err := s.Add(ctx, breakout("SBIN", at))
			if err != nil {
				t.Errorf("Add() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(instances[i%2])
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestMarkRead(t *testing.T) {
	s := New(Config{Backend: newSQLite(t)})
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 11, 0, 0, 0, utils.IndiaLocation)

	a := breakout("INFY", at)
	b := breakout("TCS", at)
	for _, alert := range []*models.Alert{a, b} {
		if _, err := s.Add(ctx, alert); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.MarkRead(ctx, a.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	unread, err := s.Unread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].ID != b.ID {
		t.Errorf("Unread() = %+v, want only %s", unread, b.ID)
	}

	if err := s.MarkRead(ctx, "missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("MarkRead(missing) = %v, want ErrNotFound", err)
	}

	n, err := s.MarkAllRead(ctx)
	if err != nil || n != 1 {
		t.Errorf("MarkAllRead() = %d, %v; want 1", n, err)
	}
	if unread, _ := s.Unread(ctx); len(unread) != 0 {
		t.Errorf("Unread() after MarkAllRead = %d", len(unread))
	}

	// A duplicate add never resets the read flag
	if ok, _ := s.Add(ctx, breakout("INFY", at)); ok {
		t.Error("duplicate Add() = true")
	}
	list, _ := s.List(ctx)
	for _, alert := range list {
		if !alert.Read {
			t.Errorf("alert %s unread after duplicate add", alert.ID)
		}
	}
}

func TestAddRejectsEmptySymbol(t *testing.T) {
	s := New(Config{Backend: newSQLite(t)})
	if _, err := s.Add(context.Background(), &models.Alert{}); !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("Add(empty) = %v, want validation error", err)
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	symbols []string
	err     error
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, alert models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.symbols = append(n.symbols, alert.Symbol)
	return n.err
}

func TestAddNotifiesOncePerDedupKey(t *testing.T) {
	n := &recordingNotifier{}
	s := New(Config{Backend: newSQLite(t), Notifier: n})
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 11, 0, 0, 0, utils.IndiaLocation)

	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, breakout("TCS", at.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	if len(n.symbols) != 1 || n.symbols[0] != "TCS" {
		t.Errorf("notified = %v, want [TCS]", n.symbols)
	}
}

func TestAddSurvivesNotifierFailure(t *testing.T) {
	n := &recordingNotifier{err: apperrors.ErrUpstreamUnavailable}
	s := New(Config{Backend: newSQLite(t), Notifier: n})

	ok, err := s.Add(context.Background(), breakout("SBIN", time.Date(2024, 3, 11, 11, 0, 0, 0, utils.IndiaLocation)))
	if err != nil || !ok {
		t.Errorf("Add() = %v, %v; want true, nil", ok, err)
	}
}
