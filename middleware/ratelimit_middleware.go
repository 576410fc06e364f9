package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/services/ratelimit"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// Limiter decides whether a request may proceed
type Limiter interface {
	Check(ctx context.Context, req ratelimit.Request) ratelimit.Result
	RecordError()
}

// RateLimitMiddleware rejects requests over their allowance with 429
type RateLimitMiddleware struct {
	limiter   Limiter
	recorders []ratelimit.StatsRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware. Every decision
// except public path bypasses is published to recorders; recorder failures
// are logged and never affect the response.
func NewRateLimitMiddleware(limiter Limiter, logger *zap.Logger, recorders ...ratelimit.StatsRecorder) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:   limiter,
		recorders: recorders,
		logger:    logger,
		now:       time.Now,
	}
}

// Limit is the http middleware
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := ClientIP(r)
		ctx = WithClientIP(ctx, ip)

		result := m.limiter.Check(ctx, ratelimit.Request{
			Path:     r.URL.Path,
			ClientIP: ip,
			Identity: GetIdentityFromContext(ctx),
		})

		if result.Reason != ratelimit.ReasonPublicPath {
			m.publish(ctx, r, result)
		}

		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			m.logger.Info("rate limit exceeded",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("client_ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("reason", string(result.Reason)),
				zap.Int("retry_after", retryAfter))
			_ = utils.WriteTooManyRequests(w, denialMessage(result.Reason), retryAfter)
			return
		}

		if result.Reason != ratelimit.ReasonPublicPath {
			setRateLimitHeaders(w.Header(), result.Metadata)
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		if sw.status >= http.StatusInternalServerError {
			m.limiter.RecordError()
		}
	})
}

func (m *RateLimitMiddleware) publish(ctx context.Context, r *http.Request, result ratelimit.Result) {
	if len(m.recorders) == 0 {
		return
	}
	ev := ratelimit.StatsEvent{
		Method:  r.Method,
		Path:    r.URL.Path,
		Allowed: result.Allowed,
		Reason:  result.Reason,
		At:      m.now(),
	}
	for _, rec := range m.recorders {
		if rec == nil {
			continue
		}
		if err := rec.Record(ctx, ev); err != nil {
			m.logger.Warn("failed to record rate limit decision", zap.Error(err))
		}
	}
}

func denialMessage(reason ratelimit.Reason) string {
	if reason == ratelimit.ReasonHighLoad {
		return "Service is under heavy load. Please retry later."
	}
	return "Too many requests. Please retry later."
}

func setRateLimitHeaders(h http.Header, meta ratelimit.Metadata) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(meta.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(meta.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(meta.Reset, 10))
	h.Set("X-System-Load", strconv.FormatFloat(meta.SystemLoad, 'f', 2, 64))
}

// ClientIP resolves the originating client address. Proxy headers win over
// the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// statusWriter captures the status code written by downstream handlers
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
