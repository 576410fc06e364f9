package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket wraps rate.Limiter with explicit timestamps so the limiter clock
// stays injectable
type tokenBucket struct {
	limiter  *rate.Limiter
	refill   float64
	lastSeen time.Time
}

func newTokenBucket(cfg BucketConfig, now time.Time) *tokenBucket {
	return &tokenBucket{
		limiter:  rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
		refill:   cfg.RefillPerSecond,
		lastSeen: now,
	}
}

// take consumes one token. When empty it returns the whole seconds until a
// token is available, at least 1.
func (b *tokenBucket) take(now time.Time) (bool, time.Duration) {
	b.lastSeen = now
	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	missing := 1 - b.limiter.TokensAt(now)
	seconds := math.Ceil(missing / b.refill)
	if seconds < 1 {
		seconds = 1
	}
	return false, time.Duration(seconds) * time.Second
}

// tokens returns the tokens available at now
func (b *tokenBucket) tokens(now time.Time) float64 {
	return b.limiter.TokensAt(now)
}
