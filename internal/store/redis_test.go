package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"nifty-breakout/pkg/utils"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Failed to create redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisDedupKeyExpires(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation)

	alert := testAlert("a1", "INFY", at)
	if ok, err := s.InsertAlertIfAbsent(ctx, alert); err != nil || !ok {
		t.Fatalf("InsertAlertIfAbsent() = %v, %v; want true", ok, err)
	}

	key := redisDedupPrefix + alert.DedupKey()
	if ttl := mr.TTL(key); ttl != redisDedupTTL {
		t.Errorf("dedup key TTL = %v, want %v", ttl, redisDedupTTL)
	}

	mr.FastForward(redisDedupTTL + time.Second)
	if mr.Exists(key) {
		t.Error("dedup key still present after its TTL")
	}
}

func TestRedisFailedInsertReleasesDedupKey(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 10, 0, 0, 0, utils.IndiaLocation)

	// A string at the alerts key makes HSET fail with WRONGTYPE
	if err := mr.Set(redisAlertsKey, "corrupt"); err != nil {
		t.Fatal(err)
	}

	alert := testAlert("a1", "INFY", at)
	if ok, err := s.InsertAlertIfAbsent(ctx, alert); err == nil || ok {
		t.Fatalf("InsertAlertIfAbsent() = %v, %v; want error", ok, err)
	}
	if mr.Exists(redisDedupPrefix + alert.DedupKey()) {
		t.Fatal("dedup key left claimed after a failed insert")
	}

	mr.Del(redisAlertsKey)
	if ok, err := s.InsertAlertIfAbsent(ctx, testAlert("a2", "INFY", at)); err != nil || !ok {
		t.Errorf("retry InsertAlertIfAbsent() = %v, %v; want true", ok, err)
	}
}
