package providers

import (
	"context"
	"errors"
	"time"
)

// Vendor is the capability set every upstream SMS vendor adapter implements
type Vendor interface {
	// Name returns the vendor name (e.g., "textverified", "fivesim", "smsactivate")
	Name() string

	// GetBalance returns the account balance held at the vendor
	GetBalance(ctx context.Context) (*Balance, error)

	// BuyNumber rents a phone number for the given country and service
	BuyNumber(ctx context.Context, country, service string) (*Activation, error)

	// CheckSMS returns the current SMS state of an activation
	CheckSMS(ctx context.Context, activationID string) (*SMSResult, error)

	// GetPricing returns the raw vendor cost for a country and service
	GetPricing(ctx context.Context, country, service string) (*Pricing, error)
}

// Balance represents a vendor account balance
type Balance struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Provider string  `json:"provider"`
}

// Activation represents a rented phone number awaiting an SMS code
type Activation struct {
	ActivationID string  `json:"activation_id"`
	PhoneNumber  string  `json:"phone_number"`
	Cost         float64 `json:"cost"`
	Provider     string  `json:"provider"`
}

// SMSStatus is the lifecycle state of an activation as reported by a vendor
type SMSStatus string

const (
	SMSStatusPending   SMSStatus = "pending"
	SMSStatusReceived  SMSStatus = "received"
	SMSStatusCancelled SMSStatus = "cancelled"
	SMSStatusExpired   SMSStatus = "expired"
)

// SMSResult represents the SMS state of an activation
type SMSResult struct {
	SMSCode  string    `json:"sms_code,omitempty"`
	SMSText  string    `json:"sms_text,omitempty"`
	Status   SMSStatus `json:"status"`
	Provider string    `json:"provider"`
}

// Pricing represents the cost of one activation
type Pricing struct {
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`
	Provider string  `json:"provider"`
}

// ProviderConfig holds the settings shared by every wrapped provider
type ProviderConfig struct {
	// Enabled controls whether the orchestrator may select the provider
	Enabled bool

	// CostMultiplier is applied to vendor pricing; clamped to [0.1, 2.0]
	CostMultiplier float64

	// Timeout bounds each individual vendor call
	Timeout time.Duration

	// HealthCheckInterval throttles HealthCheck
	HealthCheckInterval time.Duration

	// Retry controls the per-call retry loop
	Retry RetryConfig
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Enabled:             true,
		CostMultiplier:      1.0,
		Timeout:             30 * time.Second,
		HealthCheckInterval: 300 * time.Second,
		Retry:               DefaultRetryConfig(),
	}
}

const (
	minCostMultiplier = 0.1
	maxCostMultiplier = 2.0
)

// ClampCostMultiplier bounds a multiplier to the supported range. Zero means unset and yields 1.0.
func ClampCostMultiplier(m float64) float64 {
	switch {
	case m == 0:
		return 1.0
	case m < minCostMultiplier:
		return minCostMultiplier
	case m > maxCostMultiplier:
		return maxCostMultiplier
	}
	return m
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable reports whether an error may be retried. Errors that are not
// ProviderErrors (transport failures, timeouts) are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return true
}

// RetryableStatus reports whether an upstream HTTP status is worth retrying
func RetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}
