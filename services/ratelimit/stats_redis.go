package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsEvent is one limiter decision published to stats sinks
type StatsEvent struct {
	Method  string
	Path    string
	Allowed bool
	Reason  Reason
	At      time.Time
}

// StatsRecorder receives limiter decisions
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// RedisStatsStore keeps cumulative and per-minute allow/deny counters in Redis
type RedisStatsStore struct {
	rdb    *redis.Client
	prefix string
	// ttl applies to per-minute buckets only; totals never expire
	ttl time.Duration
}

// RedisStatsOption configures a RedisStatsStore
type RedisStatsOption func(*RedisStatsStore)

// WithStatsPrefix sets the key prefix
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithStatsTTL sets the per-minute bucket expiry
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// NewRedisStatsStore creates a stats store
func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "namaskah:ratelimit",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// Record increments the counters for one decision
func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := s.minuteKey(at)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if !ev.Allowed && ev.Reason != "" {
		pipe.HIncrBy(ctx, s.prefix+":reason", string(ev.Reason), 1)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Counters holds allow/deny totals
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Totals returns the cumulative counters
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	return s.read(ctx, s.prefix+":total")
}

// Minute returns the counters for the minute containing at
func (s *RedisStatsStore) Minute(ctx context.Context, at time.Time) (Counters, error) {
	return s.read(ctx, s.minuteKey(at))
}

// DenialReasons returns deny counts per reason
func (s *RedisStatsStore) DenialReasons(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":reason").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reason %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStatsStore) read(ctx context.Context, key string) (Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, err
	}

	var c Counters
	if v, ok := raw["allowed"]; ok {
		if c.Allowed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Counters{}, err
		}
	}
	if v, ok := raw["denied"]; ok {
		if c.Denied, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Counters{}, err
		}
	}
	return c, nil
}
