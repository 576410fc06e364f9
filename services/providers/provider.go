package providers

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Provider wraps a Vendor with retry, per-call timeout, health tracking and
// cost adjustment
type Provider struct {
	vendor    Vendor
	config    ProviderConfig
	health    *Health
	enabled   atomic.Bool
	observers []CallObserver
	logger    *zap.Logger
	now       func() time.Time

	// set on re-enable, cleared by the first successful health check
	awaitingCheck atomic.Bool
}

// Option configures a Provider
type Option func(*Provider)

// WithObservers registers observers notified after every attempt
func WithObservers(observers ...CallObserver) Option {
	return func(p *Provider) {
		p.observers = append(p.observers, observers...)
	}
}

// WithClock overrides the clock used for health check throttling
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// NewProvider creates a new Provider around a vendor adapter
func NewProvider(vendor Vendor, config ProviderConfig, logger *zap.Logger, opts ...Option) *Provider {
	config.CostMultiplier = ClampCostMultiplier(config.CostMultiplier)
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.MaxRetries < 1 {
		config.Retry.MaxRetries = 1
	}

	p := &Provider{
		vendor: vendor,
		config: config,
		health: NewHealth(),
		logger: logger.With(zap.String("provider", vendor.Name())),
		now:    time.Now,
	}
	p.enabled.Store(config.Enabled)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the vendor name
func (p *Provider) Name() string {
	return p.vendor.Name()
}

// Enabled reports whether the provider may be selected
func (p *Provider) Enabled() bool {
	return p.enabled.Load()
}

// SetEnabled toggles the provider. A re-enabled provider stays unavailable
// until its next HealthCheck succeeds; that check ignores the check interval.
func (p *Provider) SetEnabled(enabled bool) {
	was := p.enabled.Swap(enabled)
	if enabled && !was {
		p.awaitingCheck.Store(true)
		p.health.resetCheck()
	}
	p.logger.Info("provider enabled state changed", zap.Bool("enabled", enabled))
}

// AwaitingHealthCheck reports whether the provider was re-enabled and has not
// passed a health check since
func (p *Provider) AwaitingHealthCheck() bool {
	return p.awaitingCheck.Load()
}

// CostMultiplier returns the clamped cost multiplier
func (p *Provider) CostMultiplier() float64 {
	return p.config.CostMultiplier
}

// Health returns the provider's health tracker
func (p *Provider) Health() *Health {
	return p.health
}

// IsAvailable reports whether the provider is enabled, not awaiting its
// re-enable check, and not unhealthy
func (p *Provider) IsAvailable() bool {
	return p.Enabled() && !p.awaitingCheck.Load() && p.health.IsAvailable()
}

// GetBalance returns the vendor balance
func (p *Provider) GetBalance(ctx context.Context) (*Balance, error) {
	return execute(ctx, p, OpGetBalance, p.vendor.GetBalance)
}

// BuyNumber rents a number from the vendor. The cost carries the same
// multiplier as GetPricing so a quote and its purchase agree.
func (p *Provider) BuyNumber(ctx context.Context, country, service string) (*Activation, error) {
	activation, err := execute(ctx, p, OpBuyNumber, func(ctx context.Context) (*Activation, error) {
		return p.vendor.BuyNumber(ctx, country, service)
	})
	if err != nil {
		return nil, err
	}

	adjusted := *activation
	adjusted.Cost = activation.Cost * p.config.CostMultiplier
	if adjusted.Provider == "" {
		adjusted.Provider = p.Name()
	}
	return &adjusted, nil
}

// CheckSMS returns the SMS state of an activation
func (p *Provider) CheckSMS(ctx context.Context, activationID string) (*SMSResult, error) {
	return execute(ctx, p, OpCheckSMS, func(ctx context.Context) (*SMSResult, error) {
		return p.vendor.CheckSMS(ctx, activationID)
	})
}

// GetPricing returns vendor pricing with the cost multiplier applied
func (p *Provider) GetPricing(ctx context.Context, country, service string) (*Pricing, error) {
	pricing, err := execute(ctx, p, OpGetPricing, func(ctx context.Context) (*Pricing, error) {
		return p.vendor.GetPricing(ctx, country, service)
	})
	if err != nil {
		return nil, err
	}

	adjusted := *pricing
	adjusted.Cost = pricing.Cost * p.config.CostMultiplier
	if adjusted.Provider == "" {
		adjusted.Provider = p.Name()
	}
	return &adjusted, nil
}

// HealthCheck probes the vendor with a single balance call when the check
// interval has elapsed, then returns health availability. Probe failures are
// recorded, never returned.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	now := p.now()
	if !p.awaitingCheck.Load() && !p.health.shouldCheck(now, p.config.HealthCheckInterval) {
		return p.health.IsAvailable()
	}
	p.health.markChecked(now)

	checkCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := p.vendor.GetBalance(checkCtx)
	p.record(OpHealthCheck, 0, time.Since(start), err)

	if err == nil {
		p.awaitingCheck.Store(false)
	}
	return !p.awaitingCheck.Load() && p.health.IsAvailable()
}

func execute[T any](ctx context.Context, p *Provider, op Operation, fn func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, p.config.Retry, p.config.Timeout, fn, func(attempt int, elapsed time.Duration, err error) {
		p.record(op, attempt, elapsed, err)
	})
}

func (p *Provider) record(op Operation, attempt int, elapsed time.Duration, err error) {
	if err != nil {
		p.health.RecordFailure(err)
		p.logger.Warn("provider call failed",
			zap.String("operation", string(op)),
			zap.Int("attempt", attempt+1),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		p.health.RecordSuccess(elapsed)
	}

	event := CallEvent{
		Provider:  p.Name(),
		Operation: op,
		Attempt:   attempt + 1,
		Duration:  elapsed,
		Err:       err,
		Status:    p.health.Status(),
		At:        p.now(),
	}
	for _, o := range p.observers {
		o.ObserveCall(event)
	}
}
