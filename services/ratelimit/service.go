package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reason explains a limiter decision
type Reason string

const (
	ReasonAllowed        Reason = "allowed"
	ReasonPublicPath     Reason = "public_path"
	ReasonHighLoad       Reason = "high_load"
	ReasonIPBurst        Reason = "ip_burst"
	ReasonIdentityBurst  Reason = "identity_burst"
	ReasonIPWindow       Reason = "ip_window"
	ReasonIdentityWindow Reason = "identity_window"
)

// Request identifies the client and path being checked
type Request struct {
	Path     string
	ClientIP string
	Identity string
}

// Metadata is exposed to clients as X-RateLimit-* headers
type Metadata struct {
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	Reset      int64   `json:"reset"`
	SystemLoad float64 `json:"system_load"`
	Burst      int     `json:"burst"`
}

// Result is the outcome of a rate limit check
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     Reason
	Metadata   Metadata
}

// Stats summarizes limiter state
type Stats struct {
	TrackedClients int     `json:"tracked_clients"`
	Buckets        int     `json:"buckets"`
	SystemLoad     float64 `json:"system_load"`
	Allowed        int64   `json:"allowed"`
	Denied         int64   `json:"denied"`
	Errors         int64   `json:"errors"`
}

// Limiter combines token buckets, sliding windows and a system load signal.
// A single mutex serializes every check-and-update sequence.
type Limiter struct {
	config   Config
	resolver *resolver
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	windows     map[string]*slidingWindow
	admissions  slidingWindow
	requests    int64
	errors      int64
	denied      int64
	lastCleanup time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the limiter clock
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a new adaptive rate limiter
func NewLimiter(config Config, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		config:   config,
		resolver: newResolver(config),
		logger:   logger,
		now:      time.Now,
		buckets:  make(map[string]*tokenBucket),
		windows:  make(map[string]*slidingWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

func ipKey(ip string) string { return "ip:" + ip }
func identityKey(id string) string { return "user:" + id }

// Check admits or denies a request. It never returns an error; missing
// client data falls back to "unknown".
func (l *Limiter) Check(ctx context.Context, req Request) Result {
	if l.resolver.isPublic(req.Path) {
		return Result{Allowed: true, Reason: ReasonPublicPath}
	}

	if req.ClientIP == "" {
		req.ClientIP = "unknown"
	}
	cfg := l.resolver.resolve(req.Path)
	window := cfg.Window()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	load := l.systemLoad(now)
	meta := Metadata{
		Limit:      cfg.RequestsAllowed,
		Reset:      now.Add(window).Unix(),
		SystemLoad: load,
		Burst:      cfg.Burst(),
	}
	cutoff := now.Add(-window)
	ipWin := l.window(ipKey(req.ClientIP))

	if load > l.config.HighLoadThreshold {
		// epsilon absorbs float error, e.g. 10*(1-0.8) = 1.9999999999999996
		limit := int(math.Floor(float64(cfg.RequestsAllowed)*(1-l.config.HighLoadReduction) + 1e-9))
		if limit < 1 {
			limit = 1
		}
		meta.Limit = limit

		count := ipWin.countSince(cutoff)
		if count >= limit {
			return l.deny(req, ReasonHighLoad, l.config.HighLoadRetryAfter, meta, zap.Float64("load", load))
		}

		l.record(req, now)
		meta.Remaining = max(0, limit-count-1)
		return Result{Allowed: true, Reason: ReasonAllowed, Metadata: meta}
	}

	if ok, retry := l.bucket(ipKey(req.ClientIP), l.config.IPBucket, now).take(now); !ok {
		return l.deny(req, ReasonIPBurst, retry, meta)
	}
	if req.Identity != "" {
		if ok, retry := l.bucket(identityKey(req.Identity), l.config.IdentityBucket, now).take(now); !ok {
			return l.deny(req, ReasonIdentityBurst, retry, meta)
		}
	}

	ipCount := ipWin.countSince(cutoff)
	if ipCount >= cfg.RequestsAllowed {
		return l.deny(req, ReasonIPWindow, window, meta)
	}
	if req.Identity != "" {
		idLimit := cfg.RequestsAllowed * l.config.IdentityMultiplier
		if l.window(identityKey(req.Identity)).countSince(cutoff) >= idLimit {
			return l.deny(req, ReasonIdentityWindow, window, meta)
		}
	}

	l.record(req, now)
	meta.Remaining = max(0, cfg.RequestsAllowed-ipCount-1)
	return Result{Allowed: true, Reason: ReasonAllowed, Metadata: meta}
}

// RecordError counts a server error toward the system load
func (l *Limiter) RecordError() {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

// SystemLoad returns the current load in [0, 1]
func (l *Limiter) SystemLoad() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.systemLoad(l.now())
}

// Stats returns a snapshot of limiter counters
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedClients: len(l.windows),
		Buckets:        len(l.buckets),
		SystemLoad:     l.systemLoad(l.now()),
		Allowed:        l.requests,
		Denied:         l.denied,
		Errors:         l.errors,
	}
}

func (l *Limiter) deny(req Request, reason Reason, retry time.Duration, meta Metadata, fields ...zap.Field) Result {
	l.denied++
	meta.Remaining = 0

	l.logger.Debug("rate limit exceeded",
		append([]zap.Field{
			zap.String("path", req.Path),
			zap.String("client_ip", req.ClientIP),
			zap.String("reason", string(reason)),
			zap.Duration("retry_after", retry),
		}, fields...)...)

	return Result{Allowed: false, RetryAfter: retry, Reason: reason, Metadata: meta}
}

func (l *Limiter) record(req Request, now time.Time) {
	l.window(ipKey(req.ClientIP)).add(now)
	if req.Identity != "" {
		l.window(identityKey(req.Identity)).add(now)
	}
	l.admissions.add(now)
	l.requests++
}

// systemLoad is max(min(1, rps/ceiling), errorRate) over the load window.
// Fewer than LoadMinSamples admissions means no load.
func (l *Limiter) systemLoad(now time.Time) float64 {
	l.admissions.prune(now.Add(-l.config.LoadWindow))
	n := l.admissions.size()
	if n < l.config.LoadMinSamples {
		return 0
	}

	span := l.admissions.newest().Sub(l.admissions.oldest())
	if span < time.Second {
		span = time.Second
	}
	rps := float64(n) / span.Seconds()
	load := math.Min(1, rps/l.config.LoadRPSCeiling)

	if l.requests > 0 {
		errorRate := float64(l.errors) / float64(l.requests)
		load = math.Max(load, math.Min(1, errorRate))
	}
	return load
}

func (l *Limiter) bucket(key string, cfg BucketConfig, now time.Time) *tokenBucket {
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(cfg, now)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) window(key string) *slidingWindow {
	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	return w
}

func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.lastCleanup = now

	cutoff := now.Add(-l.config.MaxIdle)
	var removed int
	for key, w := range l.windows {
		w.prune(cutoff)
		if w.size() == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	for key, b := range l.buckets {
		if !b.lastSeen.After(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("rate limiter cleanup",
			zap.Int("removed", removed),
			zap.Int("windows", len(l.windows)),
			zap.Int("buckets", len(l.buckets)))
	}
}
