package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
)

// fileState is the on-disk layout of FileStore.
type fileState struct {
	Watchlist []models.WatchlistEntry   `json:"watchlist"`
	Alerts    []models.Alert            `json:"alerts"`
	CallStats models.PersistedCallStats `json:"callStats"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// FileStore implements Store on a single JSON file. It serializes every
// read-modify-write behind one mutex, so it is only safe for a single
// process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// load reads the state file. Returns a zero state if the file doesn't exist.
func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, err
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// save writes the state through a temp file and rename so a crash never
// leaves a truncated file behind.
func (s *FileStore) save(state *fileState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// update runs fn on the loaded state and saves it when fn reports a change.
func (s *FileStore) update(op string, fn func(state *fileState) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return apperrors.NewStoreError(BackendFile, op, err)
	}
	changed, err := fn(state)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.save(state); err != nil {
		return apperrors.NewStoreError(BackendFile, op, err)
	}
	return nil
}

func (s *FileStore) view(op string) (*fileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, apperrors.NewStoreError(BackendFile, op, err)
	}
	return state, nil
}

// AddToWatchlist adds a symbol to the watchlist. Re-adding updates the name.
func (s *FileStore) AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) error {
	entry.Symbol = strings.ToUpper(entry.Symbol)
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	return s.update("add watchlist", func(state *fileState) (bool, error) {
		for i := range state.Watchlist {
			if state.Watchlist[i].Symbol == entry.Symbol {
				state.Watchlist[i].Name = entry.Name
				return true, nil
			}
		}
		state.Watchlist = append(state.Watchlist, entry)
		return true, nil
	})
}

// RemoveFromWatchlist removes a symbol from the watchlist.
func (s *FileStore) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	return s.update("remove watchlist", func(state *fileState) (bool, error) {
		for i := range state.Watchlist {
			if state.Watchlist[i].Symbol == symbol {
				state.Watchlist = append(state.Watchlist[:i], state.Watchlist[i+1:]...)
				return true, nil
			}
		}
		return false, fmt.Errorf("watchlist symbol %s: %w", symbol, apperrors.ErrNotFound)
	})
}

// GetWatchlist returns the watchlist in insertion order.
func (s *FileStore) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	state, err := s.view("get watchlist")
	if err != nil {
		return nil, err
	}
	return state.Watchlist, nil
}

// InsertAlertIfAbsent checks and inserts under the store mutex.
func (s *FileStore) InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	inserted := false
	key := alert.DedupKey()
	err := s.update("insert alert", func(state *fileState) (bool, error) {
		for _, existing := range state.Alerts {
			if existing.DedupKey() == key {
				return false, nil
			}
		}
		state.Alerts = append(state.Alerts, *alert)
		inserted = true
		return true, nil
	})
	return inserted, err
}

// ListAlerts returns all alerts, newest first.
func (s *FileStore) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	state, err := s.view("list alerts")
	if err != nil {
		return nil, err
	}
	alerts := state.Alerts
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
	return alerts, nil
}

// MarkAlertRead sets the read flag on one alert.
func (s *FileStore) MarkAlertRead(ctx context.Context, id string) error {
	return s.update("mark alert read", func(state *fileState) (bool, error) {
		for i := range state.Alerts {
			if state.Alerts[i].ID == id {
				changed := !state.Alerts[i].Read
				state.Alerts[i].Read = true
				return changed, nil
			}
		}
		return false, fmt.Errorf("alert %s: %w", id, apperrors.ErrNotFound)
	})
}

// MarkAllAlertsRead sets the read flag on every unread alert.
func (s *FileStore) MarkAllAlertsRead(ctx context.Context) (int, error) {
	count := 0
	err := s.update("mark all alerts read", func(state *fileState) (bool, error) {
		for i := range state.Alerts {
			if !state.Alerts[i].Read {
				state.Alerts[i].Read = true
				count++
			}
		}
		return count > 0, nil
	})
	return count, err
}

// IncrementCallStats applies a delta and stamps the flush time.
func (s *FileStore) IncrementCallStats(ctx context.Context, delta models.CallStatsDelta, flushedAt time.Time) error {
	return s.update("increment call stats", func(state *fileState) (bool, error) {
		stats := &state.CallStats
		stats.APICalls += delta.APICalls
		stats.CacheHits += delta.CacheHits
		if stats.MethodBreakdown == nil {
			stats.MethodBreakdown = make(map[string]int64)
		}
		for method, n := range delta.MethodBreakdown {
			stats.MethodBreakdown[method] += n
		}
		stats.LastFlushed = flushedAt
		return true, nil
	})
}

// GetCallStats reads the cumulative counters.
func (s *FileStore) GetCallStats(ctx context.Context) (*models.PersistedCallStats, error) {
	state, err := s.view("get call stats")
	if err != nil {
		return nil, err
	}
	stats := state.CallStats
	if stats.MethodBreakdown == nil {
		stats.MethodBreakdown = make(map[string]int64)
	}
	if stats.Counters == nil {
		stats.Counters = make(map[string]int64)
	}
	return &stats, nil
}

// IncrementCounter adds delta to a named counter.
func (s *FileStore) IncrementCounter(ctx context.Context, name string, delta int64) error {
	return s.update("increment counter", func(state *fileState) (bool, error) {
		if state.CallStats.Counters == nil {
			state.CallStats.Counters = make(map[string]int64)
		}
		state.CallStats.Counters[name] += delta
		return true, nil
	})
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}
