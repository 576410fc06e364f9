package providers

import (
	"sync"
	"time"
)

// HealthStatus is the availability class of a provider
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

const (
	degradedAfterFailures  = 2
	unhealthyAfterFailures = 5
)

// statusFor derives status from the consecutive failure count alone
func statusFor(consecutiveFailures int) HealthStatus {
	switch {
	case consecutiveFailures >= unhealthyAfterFailures:
		return StatusUnhealthy
	case consecutiveFailures >= degradedAfterFailures:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// HealthSnapshot is a point-in-time copy of a provider's health
type HealthSnapshot struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	SuccessCount        int64        `json:"success_count"`
	FailureCount        int64        `json:"failure_count"`
	LastError           string       `json:"last_error,omitempty"`
	AvgResponseTimeMs   float64      `json:"avg_response_time_ms"`
	LastCheck           time.Time    `json:"last_check"`
}

// Health tracks success and failure events for one provider
type Health struct {
	mu                  sync.RWMutex
	status              HealthStatus
	consecutiveFailures int
	successCount        int64
	failureCount        int64
	lastError           string
	avgResponseTimeMs   float64
	lastCheck           time.Time
}

// NewHealth returns a tracker in the healthy state
func NewHealth() *Health {
	return &Health{status: StatusHealthy}
}

// RecordSuccess records a successful call and its response time
func (h *Health) RecordSuccess(responseTime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.successCount++
	h.consecutiveFailures = 0

	ms := float64(responseTime) / float64(time.Millisecond)
	n := float64(h.successCount)
	h.avgResponseTimeMs = (h.avgResponseTimeMs*(n-1) + ms) / n

	h.status = statusFor(h.consecutiveFailures)
}

// RecordFailure records a failed call
func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failureCount++
	h.consecutiveFailures++
	if err != nil {
		h.lastError = err.Error()
	}

	h.status = statusFor(h.consecutiveFailures)
}

// IsAvailable returns true unless the provider is unhealthy
func (h *Health) IsAvailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status != StatusUnhealthy
}

// Status returns the current status
func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// shouldCheck reports whether at least interval has passed since the last check
func (h *Health) shouldCheck(now time.Time, interval time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck.IsZero() || now.Sub(h.lastCheck) >= interval
}

func (h *Health) markChecked(now time.Time) {
	h.mu.Lock()
	h.lastCheck = now
	h.mu.Unlock()
}

func (h *Health) resetCheck() {
	h.mu.Lock()
	h.lastCheck = time.Time{}
	h.mu.Unlock()
}

// Snapshot returns a copy of the current state
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HealthSnapshot{
		Status:              h.status,
		ConsecutiveFailures: h.consecutiveFailures,
		SuccessCount:        h.successCount,
		FailureCount:        h.failureCount,
		LastError:           h.lastError,
		AvgResponseTimeMs:   h.avgResponseTimeMs,
		LastCheck:           h.lastCheck,
	}
}
