package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
)

const (
	statAPICalls     = "api_calls"
	statCacheHits    = "cache_hits"
	statMethodPrefix = "method:"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Watchlist table
	CREATE TABLE IF NOT EXISTS watchlist (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		added_at DATETIME NOT NULL
	);

	-- Alerts table; dedup_key is symbol|type|IST date
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		alert_type TEXT NOT NULL,
		data_source TEXT NOT NULL,
		today_high REAL NOT NULL,
		today_volume INTEGER NOT NULL,
		today_close REAL NOT NULL,
		prev_max_high REAL NOT NULL,
		prev_max_volume INTEGER NOT NULL,
		high_break_pct REAL NOT NULL,
		volume_break_pct REAL NOT NULL,
		triggered_at DATETIME NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0
	);

	-- Cumulative call statistics
	CREATE TABLE IF NOT EXISTS call_stats (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	-- Named durable counters
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	-- Flush bookkeeping
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol);
	CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) storeErr(op string, err error) error {
	return apperrors.NewStoreError(BackendSQLite, op, err)
}

// ============================================================================
// Watchlist Methods
// ============================================================================

// AddToWatchlist adds a symbol to the watchlist. Re-adding updates the name.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (symbol, name, added_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET name = excluded.name
	`, strings.ToUpper(entry.Symbol), entry.Name, entry.AddedAt.UTC())
	if err != nil {
		return s.storeErr("add watchlist", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from the watchlist.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlist WHERE symbol = ?
	`, strings.ToUpper(symbol))
	if err != nil {
		return s.storeErr("remove watchlist", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("watchlist symbol %s: %w", symbol, apperrors.ErrNotFound)
	}
	return nil
}

// GetWatchlist retrieves the watchlist in insertion order.
func (s *SQLiteStore) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, name, added_at FROM watchlist ORDER BY added_at ASC, symbol ASC
	`)
	if err != nil {
		return nil, s.storeErr("get watchlist", err)
	}
	defer rows.Close()

	var entries []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		if err := rows.Scan(&e.Symbol, &e.Name, &e.AddedAt); err != nil {
			return nil, s.storeErr("scan watchlist", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ============================================================================
// Alerts Methods
// ============================================================================

// InsertAlertIfAbsent relies on the UNIQUE dedup_key constraint so the check
// and insert are a single statement.
func (s *SQLiteStore) InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts (
			id, dedup_key, symbol, name, alert_type, data_source,
			today_high, today_volume, today_close, prev_max_high, prev_max_volume,
			high_break_pct, volume_break_pct, triggered_at, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.DedupKey(), alert.Symbol, alert.Name, string(alert.AlertType), string(alert.DataSource),
		alert.TodayHigh, alert.TodayVolume, alert.TodayClose, alert.PrevMaxHigh, alert.PrevMaxVolume,
		alert.HighBreakPercent, alert.VolumeBreakPercent, alert.TriggeredAt.UTC(), alert.Read,
	)
	if err != nil {
		return false, s.storeErr("insert alert", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, s.storeErr("insert alert", err)
	}
	return n == 1, nil
}

// ListAlerts returns all alerts, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, name, alert_type, data_source,
			today_high, today_volume, today_close, prev_max_high, prev_max_volume,
			high_break_pct, volume_break_pct, triggered_at, is_read
		FROM alerts ORDER BY triggered_at DESC
	`)
	if err != nil {
		return nil, s.storeErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var alertType, dataSource string
		if err := rows.Scan(
			&a.ID, &a.Symbol, &a.Name, &alertType, &dataSource,
			&a.TodayHigh, &a.TodayVolume, &a.TodayClose, &a.PrevMaxHigh, &a.PrevMaxVolume,
			&a.HighBreakPercent, &a.VolumeBreakPercent, &a.TriggeredAt, &a.Read,
		); err != nil {
			return nil, s.storeErr("scan alert", err)
		}
		a.AlertType = models.AlertType(alertType)
		a.DataSource = models.DataSource(dataSource)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// MarkAlertRead sets the read flag on one alert.
func (s *SQLiteStore) MarkAlertRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return s.storeErr("mark alert read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return s.storeErr("mark alert read", err)
		}
		if exists == 0 {
			return fmt.Errorf("alert %s: %w", id, apperrors.ErrNotFound)
		}
	}
	return nil
}

// MarkAllAlertsRead sets the read flag on every unread alert.
func (s *SQLiteStore) MarkAllAlertsRead(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE is_read = 0`)
	if err != nil {
		return 0, s.storeErr("mark all alerts read", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ============================================================================
// Call Stats Methods
// ============================================================================

// IncrementCallStats applies a delta in a single transaction.
func (s *SQLiteStore) IncrementCallStats(ctx context.Context, delta models.CallStatsDelta, flushedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeErr("increment call stats", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO call_stats (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
	`
	increments := map[string]int64{
		statAPICalls:  delta.APICalls,
		statCacheHits: delta.CacheHits,
	}
	for method, n := range delta.MethodBreakdown {
		increments[statMethodPrefix+method] += n
	}
	for name, n := range increments {
		if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, name, n); err != nil {
			return s.storeErr("increment call stats", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES ('call_stats', ?, ?)
	`, flushedAt.UTC(), time.Now().UTC()); err != nil {
		return s.storeErr("increment call stats", err)
	}

	if err := tx.Commit(); err != nil {
		return s.storeErr("increment call stats", err)
	}
	return nil
}

// GetCallStats reads the cumulative counters.
func (s *SQLiteStore) GetCallStats(ctx context.Context) (*models.PersistedCallStats, error) {
	stats := &models.PersistedCallStats{
		MethodBreakdown: make(map[string]int64),
		Counters:        make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM call_stats`)
	if err != nil {
		return nil, s.storeErr("get call stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, s.storeErr("scan call stats", err)
		}
		switch {
		case name == statAPICalls:
			stats.APICalls = value
		case name == statCacheHits:
			stats.CacheHits = value
		case strings.HasPrefix(name, statMethodPrefix):
			stats.MethodBreakdown[strings.TrimPrefix(name, statMethodPrefix)] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("get call stats", err)
	}

	counterRows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, s.storeErr("get counters", err)
	}
	defer counterRows.Close()

	for counterRows.Next() {
		var name string
		var value int64
		if err := counterRows.Scan(&name, &value); err != nil {
			return nil, s.storeErr("scan counters", err)
		}
		stats.Counters[name] = value
	}
	if err := counterRows.Err(); err != nil {
		return nil, s.storeErr("get counters", err)
	}

	var lastFlushed time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT last_sync FROM sync_status WHERE data_type = 'call_stats'
	`).Scan(&lastFlushed)
	if err != nil && err != sql.ErrNoRows {
		return nil, s.storeErr("get last flushed", err)
	}
	stats.LastFlushed = lastFlushed

	return stats, nil
}

// IncrementCounter adds delta to a named counter.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, name string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
	`, name, delta)
	if err != nil {
		return s.storeErr("increment counter", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
