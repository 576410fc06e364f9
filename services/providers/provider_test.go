package providers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
	"github.com/namaskah/namaskah-sms/backend/services/providers/providerstest"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []providers.CallEvent
}

func (r *recordingObserver) ObserveCall(e providers.CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) all() []providers.CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]providers.CallEvent(nil), r.events...)
}

func testConfig(attempts int) providers.ProviderConfig {
	cfg := providers.DefaultProviderConfig()
	cfg.Timeout = time.Second
	cfg.Retry = providers.RetryConfig{
		MaxRetries:      attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		ExponentialBase: 2,
	}
	return cfg
}

func TestProvider_RetriesAndRecordsEveryAttempt(t *testing.T) {
	vendor := providerstest.New("fivesim")
	vendor.FailNext(providers.OpBuyNumber, errors.New("503 from vendor"), errors.New("503 from vendor"))

	obs := &recordingObserver{}
	p := providers.NewProvider(vendor, testConfig(3), zaptest.NewLogger(t), providers.WithObservers(obs))

	activation, err := p.BuyNumber(context.Background(), "US", "telegram")
	require.NoError(t, err)
	assert.Equal(t, "fivesim-3", activation.ActivationID)
	assert.Equal(t, 3, vendor.Calls(providers.OpBuyNumber))

	snap := p.Health().Snapshot()
	assert.Equal(t, int64(2), snap.FailureCount)
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	events := obs.all()
	require.Len(t, events, 3)
	assert.False(t, events[0].Success())
	assert.Equal(t, 1, events[0].Attempt)
	assert.True(t, events[2].Success())
	assert.Equal(t, providers.OpBuyNumber, events[2].Operation)
}

func TestProvider_ExhaustedRetriesReturnLastError(t *testing.T) {
	vendor := providerstest.New("smsactivate")
	vendor.FailNext(providers.OpGetBalance, errors.New("first"), errors.New("second"))

	p := providers.NewProvider(vendor, testConfig(2), zaptest.NewLogger(t))

	_, err := p.GetBalance(context.Background())
	require.Error(t, err)
	assert.Equal(t, "second", err.Error())
	assert.Equal(t, 2, p.Health().Snapshot().ConsecutiveFailures)
	assert.Equal(t, providers.StatusDegraded, p.Health().Status())
}

func TestProvider_GetPricingAppliesMultiplierOnce(t *testing.T) {
	vendor := providerstest.New("textverified")
	vendor.Cost = 2.0

	cfg := testConfig(1)
	cfg.CostMultiplier = 1.25
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t))

	pricing, err := p.GetPricing(context.Background(), "US", "whatsapp")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, pricing.Cost, 1e-9)
	assert.Equal(t, "USD", pricing.Currency)
}

func TestProvider_BuyNumberCostMatchesQuote(t *testing.T) {
	vendor := providerstest.New("fivesim")
	vendor.Cost = 2.0

	cfg := testConfig(1)
	cfg.CostMultiplier = 1.25
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t))

	pricing, err := p.GetPricing(context.Background(), "US", "whatsapp")
	require.NoError(t, err)

	activation, err := p.BuyNumber(context.Background(), "US", "whatsapp")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, activation.Cost, 1e-9)
	assert.InDelta(t, pricing.Cost, activation.Cost, 1e-9)
	assert.Equal(t, "fivesim", activation.Provider)
}

func TestProvider_CostMultiplierIsClamped(t *testing.T) {
	cfg := testConfig(1)
	cfg.CostMultiplier = 7
	p := providers.NewProvider(providerstest.New("a"), cfg, zaptest.NewLogger(t))
	assert.Equal(t, 2.0, p.CostMultiplier())

	cfg.CostMultiplier = 0.001
	p = providers.NewProvider(providerstest.New("b"), cfg, zaptest.NewLogger(t))
	assert.Equal(t, 0.1, p.CostMultiplier())
}

func TestProvider_HealthCheckIsThrottled(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	vendor := providerstest.New("fivesim")
	cfg := testConfig(3)
	cfg.HealthCheckInterval = 5 * time.Minute
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t), providers.WithClock(clock))

	assert.True(t, p.HealthCheck(context.Background()))
	assert.Equal(t, 1, vendor.Calls(providers.OpGetBalance))

	now = now.Add(time.Minute)
	assert.True(t, p.HealthCheck(context.Background()))
	assert.Equal(t, 1, vendor.Calls(providers.OpGetBalance), "throttled")

	now = now.Add(5 * time.Minute)
	p.HealthCheck(context.Background())
	assert.Equal(t, 2, vendor.Calls(providers.OpGetBalance))
}

func TestProvider_HealthCheckNeverReturnsError(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	vendor := providerstest.New("smsactivate")
	vendor.FailWith(errors.New("vendor down"))

	cfg := testConfig(3)
	cfg.HealthCheckInterval = 0
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t), providers.WithClock(func() time.Time { return now }))

	for i := 0; i < 4; i++ {
		assert.True(t, p.HealthCheck(context.Background()))
	}
	assert.False(t, p.HealthCheck(context.Background()), "fifth consecutive failure is unhealthy")
	assert.Equal(t, 5, vendor.Calls(providers.OpGetBalance), "health checks do not retry")
	assert.Equal(t, "vendor down", p.Health().Snapshot().LastError)
}

func TestProvider_ReenableForcesHealthCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	vendor := providerstest.New("textverified")
	cfg := testConfig(1)
	cfg.HealthCheckInterval = time.Hour
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t), providers.WithClock(func() time.Time { return now }))

	p.HealthCheck(context.Background())
	p.SetEnabled(false)
	assert.False(t, p.IsAvailable())

	p.SetEnabled(true)
	assert.False(t, p.IsAvailable(), "re-enabled provider waits for a health check")
	assert.True(t, p.AwaitingHealthCheck())

	assert.True(t, p.HealthCheck(context.Background()))
	assert.Equal(t, 2, vendor.Calls(providers.OpGetBalance))
	assert.True(t, p.IsAvailable())
	assert.False(t, p.AwaitingHealthCheck())
}

func TestProvider_ReenableStaysUnavailableUntilCheckSucceeds(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	vendor := providerstest.New("smsactivate")
	cfg := testConfig(1)
	cfg.HealthCheckInterval = time.Hour
	p := providers.NewProvider(vendor, cfg, zaptest.NewLogger(t), providers.WithClock(func() time.Time { return now }))

	p.SetEnabled(false)
	p.SetEnabled(true)

	vendor.FailWith(errors.New("vendor down"))
	assert.False(t, p.HealthCheck(context.Background()))
	assert.False(t, p.IsAvailable())

	// the interval has not elapsed, but the pending check still runs
	vendor.FailWith(nil)
	assert.True(t, p.HealthCheck(context.Background()))
	assert.Equal(t, 2, vendor.Calls(providers.OpGetBalance))
	assert.True(t, p.IsAvailable())
}
