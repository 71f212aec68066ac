package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
)

const (
	redisKeyPrefix      = "nifty:"
	redisWatchlistKey   = redisKeyPrefix + "watchlist"
	redisAlertsKey      = redisKeyPrefix + "alerts"
	redisDedupPrefix    = redisKeyPrefix + "alert:dedup:"
	redisCallStatsKey   = redisKeyPrefix + "callstats"
	redisMethodsKey     = redisKeyPrefix + "callstats:methods"
	redisLastFlushedKey = redisKeyPrefix + "callstats:last_flushed"
	redisCountersKey    = redisKeyPrefix + "counters"

	// Dedup keys are date-scoped, so they only need to outlive their day.
	redisDedupTTL = 48 * time.Hour
)

// RedisStore implements Store on Redis so several scanner instances share
// one alert list and one set of cumulative counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at url and verifies it with PING.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewStoreError(BackendRedis, "ping", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) storeErr(op string, err error) error {
	return apperrors.NewStoreError(BackendRedis, op, err)
}

// AddToWatchlist adds a symbol to the watchlist. Re-adding updates the name.
func (s *RedisStore) AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) error {
	entry.Symbol = strings.ToUpper(entry.Symbol)

	existing, err := s.client.HGet(ctx, redisWatchlistKey, entry.Symbol).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.storeErr("add watchlist", err)
	}
	if existing != "" {
		var prev models.WatchlistEntry
		if err := json.Unmarshal([]byte(existing), &prev); err == nil {
			entry.AddedAt = prev.AddedAt
		}
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return s.storeErr("add watchlist", err)
	}
	if err := s.client.HSet(ctx, redisWatchlistKey, entry.Symbol, data).Err(); err != nil {
		return s.storeErr("add watchlist", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from the watchlist.
func (s *RedisStore) RemoveFromWatchlist(ctx context.Context, symbol string) error {
	n, err := s.client.HDel(ctx, redisWatchlistKey, strings.ToUpper(symbol)).Result()
	if err != nil {
		return s.storeErr("remove watchlist", err)
	}
	if n == 0 {
		return fmt.Errorf("watchlist symbol %s: %w", symbol, apperrors.ErrNotFound)
	}
	return nil
}

// GetWatchlist returns the watchlist ordered by when each symbol was added.
func (s *RedisStore) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	raw, err := s.client.HGetAll(ctx, redisWatchlistKey).Result()
	if err != nil {
		return nil, s.storeErr("get watchlist", err)
	}

	entries := make([]models.WatchlistEntry, 0, len(raw))
	for _, v := range raw {
		var e models.WatchlistEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, s.storeErr("decode watchlist", err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].Symbol < entries[j].Symbol
		}
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})
	return entries, nil
}

// InsertAlertIfAbsent claims the dedup key with SETNX before writing the
// alert, which makes the check-then-insert atomic across instances.
func (s *RedisStore) InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	dedupKey := redisDedupPrefix + alert.DedupKey()

	claimed, err := s.client.SetNX(ctx, dedupKey, alert.ID, redisDedupTTL).Result()
	if err != nil {
		return false, s.storeErr("insert alert", err)
	}
	if !claimed {
		return false, nil
	}

	data, err := json.Marshal(alert)
	if err == nil {
		err = s.client.HSet(ctx, redisAlertsKey, alert.ID, data).Err()
	}
	if err != nil {
		// Release the claim so a later scan can retry the insert.
		if delErr := s.client.Del(ctx, dedupKey).Err(); delErr != nil {
			err = fmt.Errorf("%w (dedup key %s left claimed: %v)", err, dedupKey, delErr)
		}
		return false, s.storeErr("insert alert", err)
	}
	return true, nil
}

// ListAlerts returns all alerts, newest first.
func (s *RedisStore) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	raw, err := s.client.HGetAll(ctx, redisAlertsKey).Result()
	if err != nil {
		return nil, s.storeErr("list alerts", err)
	}

	alerts := make([]models.Alert, 0, len(raw))
	for _, v := range raw {
		var a models.Alert
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, s.storeErr("decode alert", err)
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
	return alerts, nil
}

// MarkAlertRead sets the read flag on one alert.
func (s *RedisStore) MarkAlertRead(ctx context.Context, id string) error {
	v, err := s.client.HGet(ctx, redisAlertsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("alert %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return s.storeErr("mark alert read", err)
	}
	return s.writeRead(ctx, id, v)
}

// MarkAllAlertsRead sets the read flag on every unread alert.
func (s *RedisStore) MarkAllAlertsRead(ctx context.Context) (int, error) {
	raw, err := s.client.HGetAll(ctx, redisAlertsKey).Result()
	if err != nil {
		return 0, s.storeErr("mark all alerts read", err)
	}

	count := 0
	for id, v := range raw {
		var a models.Alert
		if err := json.Unmarshal([]byte(v), &a); err != nil || a.Read {
			continue
		}
		if err := s.writeRead(ctx, id, v); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *RedisStore) writeRead(ctx context.Context, id, raw string) error {
	var a models.Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return s.storeErr("decode alert", err)
	}
	if a.Read {
		return nil
	}
	a.Read = true
	data, err := json.Marshal(a)
	if err != nil {
		return s.storeErr("mark alert read", err)
	}
	if err := s.client.HSet(ctx, redisAlertsKey, id, data).Err(); err != nil {
		return s.storeErr("mark alert read", err)
	}
	return nil
}

// IncrementCallStats applies a delta in one MULTI/EXEC transaction.
func (s *RedisStore) IncrementCallStats(ctx context.Context, delta models.CallStatsDelta, flushedAt time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if delta.APICalls != 0 {
			pipe.HIncrBy(ctx, redisCallStatsKey, statAPICalls, delta.APICalls)
		}
		if delta.CacheHits != 0 {
			pipe.HIncrBy(ctx, redisCallStatsKey, statCacheHits, delta.CacheHits)
		}
		for method, n := range delta.MethodBreakdown {
			if n != 0 {
				pipe.HIncrBy(ctx, redisMethodsKey, method, n)
			}
		}
		pipe.Set(ctx, redisLastFlushedKey, flushedAt.UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return s.storeErr("increment call stats", err)
	}
	return nil
}

// GetCallStats reads the cumulative counters.
func (s *RedisStore) GetCallStats(ctx context.Context) (*models.PersistedCallStats, error) {
	stats := &models.PersistedCallStats{
		MethodBreakdown: make(map[string]int64),
		Counters:        make(map[string]int64),
	}

	totals, err := s.client.HGetAll(ctx, redisCallStatsKey).Result()
	if err != nil {
		return nil, s.storeErr("get call stats", err)
	}
	stats.APICalls = parseInt64(totals[statAPICalls])
	stats.CacheHits = parseInt64(totals[statCacheHits])

	methods, err := s.client.HGetAll(ctx, redisMethodsKey).Result()
	if err != nil {
		return nil, s.storeErr("get call stats", err)
	}
	for k, v := range methods {
		stats.MethodBreakdown[k] = parseInt64(v)
	}

	counters, err := s.client.HGetAll(ctx, redisCountersKey).Result()
	if err != nil {
		return nil, s.storeErr("get counters", err)
	}
	for k, v := range counters {
		stats.Counters[k] = parseInt64(v)
	}

	last, err := s.client.Get(ctx, redisLastFlushedKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.storeErr("get last flushed", err)
	}
	if last != "" {
		if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
			stats.LastFlushed = t
		}
	}

	return stats, nil
}

// IncrementCounter adds delta to a named counter.
func (s *RedisStore) IncrementCounter(ctx context.Context, name string, delta int64) error {
	if err := s.client.HIncrBy(ctx, redisCountersKey, name, delta).Err(); err != nil {
		return s.storeErr("increment counter", err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
