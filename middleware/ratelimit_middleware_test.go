package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/namaskah/namaskah-sms/backend/services/ratelimit"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

type stubLimiter struct {
	mu       sync.Mutex
	result   ratelimit.Result
	requests []ratelimit.Request
	errors   int
}

func (s *stubLimiter) Check(_ context.Context, req ratelimit.Request) ratelimit.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

func (s *stubLimiter) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

type captureRecorder struct {
	events []ratelimit.StatsEvent
	err    error
}

func (c *captureRecorder) Record(_ context.Context, ev ratelimit.StatsEvent) error {
	c.events = append(c.events, ev)
	return c.err
}

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRateLimitMiddleware_DeniesWith429(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.Endpoints = map[string]ratelimit.EndpointConfig{"/api/v1/numbers": {RequestsAllowed: 2, WindowSeconds: 60}}
	limiter := ratelimit.NewLimiter(cfg, zaptest.NewLogger(t))
	handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t)).Limit(okHandler(http.StatusOK))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/numbers", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "0.00", first.Header().Get("X-System-Load"))

	assert.Equal(t, http.StatusOK, send().Code)

	denied := send()
	require.Equal(t, http.StatusTooManyRequests, denied.Code)

	retryAfter, err := strconv.Atoi(denied.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 60, retryAfter, 1)

	var body utils.RateLimitResponse
	require.NoError(t, json.NewDecoder(denied.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.NotEmpty(t, body.Message)
	assert.Equal(t, retryAfter, body.RetryAfter)
}

func TestRateLimitMiddleware_RetryAfterRoundsUp(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:    false,
		RetryAfter: 1500 * time.Millisecond,
		Reason:     ratelimit.ReasonIPBurst,
	}}
	handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t)).Limit(okHandler(http.StatusOK))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_PassesClientData(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true, Reason: ratelimit.ReasonAllowed}}

	var ctxIP string
	handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t)).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxIP = GetClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "user-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, limiter.requests, 1)
	assert.Equal(t, ratelimit.Request{Path: "/api/v1/balance", ClientIP: "198.51.100.1", Identity: "user-1"}, limiter.requests[0])
	assert.Equal(t, "198.51.100.1", ctxIP)
}

func TestRateLimitMiddleware_RecordsServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		errors int
	}{
		{"success", http.StatusOK, 0},
		{"client error", http.StatusNotFound, 0},
		{"bad gateway", http.StatusBadGateway, 1},
		{"internal error", http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &stubLimiter{result: ratelimit.Result{Allowed: true, Reason: ratelimit.ReasonAllowed}}
			handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t)).Limit(okHandler(tt.status))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.errors, limiter.errors)
		})
	}
}

func TestRateLimitMiddleware_PublishesDecisions(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: false, RetryAfter: time.Second, Reason: ratelimit.ReasonHighLoad}}
	rec := &captureRecorder{err: errors.New("redis down")}
	handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t), rec, nil).Limit(okHandler(http.StatusOK))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/numbers", nil))

	// recorder failure must not change the response
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "POST", rec.events[0].Method)
	assert.Equal(t, "/api/v1/numbers", rec.events[0].Path)
	assert.False(t, rec.events[0].Allowed)
	assert.Equal(t, ratelimit.ReasonHighLoad, rec.events[0].Reason)
}

func TestRateLimitMiddleware_PublicPathSkipsHeadersAndStats(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true, Reason: ratelimit.ReasonPublicPath}}
	rec := &captureRecorder{}
	handler := NewRateLimitMiddleware(limiter, zaptest.NewLogger(t), rec).Limit(okHandler(http.StatusOK))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, rec.events)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded for first entry", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2", "CF-Connecting-IP": "3.3.3.3"}, "4.4.4.4:1", "1.1.1.1"},
		{"cloudflare header", map[string]string{"CF-Connecting-IP": "3.3.3.3", "X-Real-IP": "5.5.5.5"}, "4.4.4.4:1", "3.3.3.3"},
		{"real ip header", map[string]string{"X-Real-IP": "5.5.5.5"}, "4.4.4.4:1", "5.5.5.5"},
		{"remote addr host", nil, "4.4.4.4:1234", "4.4.4.4"},
		{"remote addr without port", nil, "4.4.4.4", "4.4.4.4"},
		{"empty forwarded entry falls through", map[string]string{"X-Forwarded-For": " , 2.2.2.2"}, "4.4.4.4:1", "4.4.4.4"},
		{"nothing known", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}
