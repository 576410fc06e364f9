package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatsStore(t *testing.T) (*RedisStatsStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStatsStore(rdb, WithStatsPrefix("test:rl:"), WithStatsTTL(time.Hour)), mr
}

func TestRedisStatsStore_RecordAndRead(t *testing.T) {
	store, mr := newTestStatsStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 30, 15, 0, time.UTC)

	require.NoError(t, store.Record(ctx, StatsEvent{Method: "POST", Path: "/api/v1/numbers", Allowed: true, At: at}))
	require.NoError(t, store.Record(ctx, StatsEvent{Method: "POST", Path: "/api/v1/numbers", Allowed: true, At: at}))
	require.NoError(t, store.Record(ctx, StatsEvent{Method: "POST", Path: "/api/v1/numbers", Allowed: false, Reason: ReasonIPWindow, At: at}))

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, totals)

	minute, err := store.Minute(ctx, at.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, minute)

	other, err := store.Minute(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Counters{}, other)

	reasons, err := store.DenialReasons(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ip_window": 1}, reasons)

	assert.Equal(t, "1", mr.HGet("test:rl:route", "POST /api/v1/numbers:denied"))
	assert.True(t, mr.TTL("test:rl:minute:202503011230") > 0)
	assert.Equal(t, time.Duration(0), mr.TTL("test:rl:total"))
}

func TestRedisStatsStore_NilClient(t *testing.T) {
	var store *RedisStatsStore
	assert.NoError(t, store.Record(context.Background(), StatsEvent{Allowed: true}))
}

func TestRedisStatsStore_Unavailable(t *testing.T) {
	store, mr := newTestStatsStore(t)
	mr.Close()

	err := store.Record(context.Background(), StatsEvent{Allowed: true})
	assert.Error(t, err)
}
