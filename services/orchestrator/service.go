package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

var (
	// ErrNoProviderAvailable is returned when no provider can handle the request
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrAllProvidersFailed is returned when every candidate provider failed
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrUnknownStrategy is returned for unrecognized strategy names
	ErrUnknownStrategy = errors.New("unknown routing strategy")
)

// Strategy defines how to select a provider
type Strategy string

const (
	// StrategyPrimaryOnly uses the primary provider only
	StrategyPrimaryOnly Strategy = "primary_only"

	// StrategyRoundRobin rotates across available providers
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyCostOptimized selects the provider with the lowest cost multiplier
	StrategyCostOptimized Strategy = "cost_optimized"

	// StrategyHealthAware prefers healthy, then degraded providers
	StrategyHealthAware Strategy = "health_aware"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPrimaryOnly, StrategyRoundRobin, StrategyCostOptimized, StrategyHealthAware:
		return Strategy(s), nil
	case "":
		return StrategyHealthAware, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownStrategy, s)
	}
}

// HealthReport is the outcome of a health check for one provider
type HealthReport struct {
	Provider  string                   `json:"provider"`
	Enabled   bool                     `json:"enabled"`
	Available bool                     `json:"available"`
	Health    providers.HealthSnapshot `json:"health"`
}

// ProviderStats describes one registered provider
type ProviderStats struct {
	Name           string                   `json:"name"`
	Priority       int                      `json:"priority"`
	Primary        bool                     `json:"primary"`
	Enabled        bool                     `json:"enabled"`
	Available      bool                     `json:"available"`
	CostMultiplier float64                  `json:"cost_multiplier"`
	Health         providers.HealthSnapshot `json:"health"`
}

// Stats summarizes the orchestrator state
type Stats struct {
	Strategy           Strategy        `json:"strategy"`
	TotalProviders     int             `json:"total_providers"`
	AvailableProviders int             `json:"available_providers"`
	Providers          []ProviderStats `json:"providers"`
}

// Orchestrator selects providers per request and fails over on error
type Orchestrator struct {
	registry *providers.Registry
	logger   *zap.Logger

	mu       sync.RWMutex
	strategy Strategy

	rrIndex atomic.Uint64
}

// New creates a new orchestrator over a registry
func New(registry *providers.Registry, strategy Strategy, logger *zap.Logger) *Orchestrator {
	if strategy == "" {
		strategy = StrategyHealthAware
	}
	return &Orchestrator{
		registry: registry,
		strategy: strategy,
		logger:   logger,
	}
}

// Registry returns the underlying provider registry
func (o *Orchestrator) Registry() *providers.Registry {
	return o.registry
}

// Strategy returns the current routing strategy
func (o *Orchestrator) Strategy() Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.strategy
}

// SetStrategy updates the routing strategy
func (o *Orchestrator) SetStrategy(strategy Strategy) error {
	if _, err := ParseStrategy(string(strategy)); err != nil || strategy == "" {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	o.mu.Lock()
	previous := o.strategy
	o.strategy = strategy
	o.mu.Unlock()

	o.logger.Info("routing strategy changed",
		zap.String("from", string(previous)),
		zap.String("to", string(strategy)))
	return nil
}

// EnableProvider re-enables a provider and runs its health check right away.
// The provider only becomes selectable once that check passes.
func (o *Orchestrator) EnableProvider(ctx context.Context, name string) (HealthReport, error) {
	entry, err := o.registry.Get(name)
	if err != nil {
		return HealthReport{}, err
	}
	entry.Provider.SetEnabled(true)

	report := o.checkOne(ctx, entry.Provider)
	if !report.Available {
		o.logger.Warn("re-enabled provider failed its health check",
			zap.String("provider", name),
			zap.String("last_error", report.Health.LastError))
	}
	return report, nil
}

// DisableProvider removes a provider from selection without unregistering it
func (o *Orchestrator) DisableProvider(name string) error {
	entry, err := o.registry.Get(name)
	if err != nil {
		return err
	}
	entry.Provider.SetEnabled(false)
	return nil
}

// GetAvailableProviders returns enabled, non-unhealthy providers in descending
// priority order
func (o *Orchestrator) GetAvailableProviders() []*providers.Registration {
	all := o.registry.List()
	available := make([]*providers.Registration, 0, len(all))
	for _, entry := range all {
		if entry.Provider.IsAvailable() {
			available = append(available, entry)
		}
	}
	return available
}

// SelectProvider returns the provider the current strategy would use first
func (o *Orchestrator) SelectProvider() (*providers.Registration, error) {
	candidates := o.candidates()
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return candidates[0], nil
}

// candidates returns providers in the order failover should try them
func (o *Orchestrator) candidates() []*providers.Registration {
	strategy := o.Strategy()

	if strategy == StrategyPrimaryOnly {
		primary := o.registry.Primary()
		if primary == nil || !primary.Provider.IsAvailable() {
			return nil
		}
		return []*providers.Registration{primary}
	}

	available := o.GetAvailableProviders()
	if len(available) == 0 {
		return nil
	}

	selected := o.selectFrom(strategy, available)
	ordered := make([]*providers.Registration, 0, len(available))
	ordered = append(ordered, available[selected])
	for i, entry := range available {
		if i != selected {
			ordered = append(ordered, entry)
		}
	}
	return ordered
}

// selectFrom returns the index of the strategy's choice within available
func (o *Orchestrator) selectFrom(strategy Strategy, available []*providers.Registration) int {
	switch strategy {
	case StrategyRoundRobin:
		next := o.rrIndex.Add(1) - 1
		return int(next % uint64(len(available)))

	case StrategyCostOptimized:
		best := 0
		for i, entry := range available {
			if entry.Provider.CostMultiplier() < available[best].Provider.CostMultiplier() {
				best = i
			}
		}
		return best

	default:
		for i, entry := range available {
			if entry.Provider.Health().Status() == providers.StatusHealthy {
				return i
			}
		}
		for i, entry := range available {
			if entry.Provider.Health().Status() == providers.StatusDegraded {
				return i
			}
		}
		return 0
	}
}

// ExecuteWithFailover runs fn against candidate providers until one succeeds
func ExecuteWithFailover[T any](ctx context.Context, o *Orchestrator, op providers.Operation, fn func(ctx context.Context, p *providers.Provider) (T, error)) (T, error) {
	var zero T

	candidates := o.candidates()
	if len(candidates) == 0 {
		o.logger.Error("no provider available", zap.String("operation", string(op)))
		return zero, ErrNoProviderAvailable
	}

	var lastErr error
	for _, entry := range candidates {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(lastErr, err))
			}
			return zero, err
		}

		result, err := fn(ctx, entry.Provider)
		if err == nil {
			return result, nil
		}

		lastErr = err
		o.logger.Warn("provider failed, trying next",
			zap.String("operation", string(op)),
			zap.String("provider", entry.Provider.Name()),
			zap.Error(err))
	}

	o.logger.Error("all providers failed",
		zap.String("operation", string(op)),
		zap.Int("attempted", len(candidates)),
		zap.Error(lastErr))

	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// GetBalance returns the balance of the first provider that answers
func (o *Orchestrator) GetBalance(ctx context.Context) (*providers.Balance, error) {
	return ExecuteWithFailover(ctx, o, providers.OpGetBalance, func(ctx context.Context, p *providers.Provider) (*providers.Balance, error) {
		return p.GetBalance(ctx)
	})
}

// BuyNumber rents a number from the first provider that can serve it
func (o *Orchestrator) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	return ExecuteWithFailover(ctx, o, providers.OpBuyNumber, func(ctx context.Context, p *providers.Provider) (*providers.Activation, error) {
		return p.BuyNumber(ctx, country, service)
	})
}

// CheckSMS polls the provider that issued the activation when it is usable,
// otherwise falls back to failover
func (o *Orchestrator) CheckSMS(ctx context.Context, activationID, providerName string) (*providers.SMSResult, error) {
	if providerName != "" {
		if entry, err := o.registry.Get(providerName); err == nil && entry.Provider.IsAvailable() {
			return entry.Provider.CheckSMS(ctx, activationID)
		}
		o.logger.Warn("requested provider unavailable, using failover",
			zap.String("provider", providerName),
			zap.String("activation_id", activationID))
	}

	return ExecuteWithFailover(ctx, o, providers.OpCheckSMS, func(ctx context.Context, p *providers.Provider) (*providers.SMSResult, error) {
		return p.CheckSMS(ctx, activationID)
	})
}

// GetPricing asks the strategy's provider for a price. There is no failover.
func (o *Orchestrator) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	entry, err := o.SelectProvider()
	if err != nil {
		return nil, err
	}
	return entry.Provider.GetPricing(ctx, country, service)
}

// HealthCheckAll checks every registered provider concurrently
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[string]HealthReport {
	entries := o.registry.List()
	reports := make(map[string]HealthReport, len(entries))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, entry := range entries {
		wg.Add(1)
		go func(p *providers.Provider) {
			defer wg.Done()
			report := o.checkOne(ctx, p)

			mu.Lock()
			reports[p.Name()] = report
			mu.Unlock()
		}(entry.Provider)
	}
	wg.Wait()

	return reports
}

func (o *Orchestrator) checkOne(ctx context.Context, p *providers.Provider) (report HealthReport) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("health check panicked",
				zap.String("provider", p.Name()),
				zap.Any("panic", r))

			snapshot := p.Health().Snapshot()
			snapshot.Status = providers.StatusUnhealthy
			snapshot.LastError = fmt.Sprintf("health check panic: %v", r)
			report = HealthReport{
				Provider:  p.Name(),
				Enabled:   p.Enabled(),
				Available: false,
				Health:    snapshot,
			}
		}
	}()

	available := p.HealthCheck(ctx)
	return HealthReport{
		Provider:  p.Name(),
		Enabled:   p.Enabled(),
		Available: available && p.Enabled(),
		Health:    p.Health().Snapshot(),
	}
}

// GetProviderStats returns per-provider state and totals
func (o *Orchestrator) GetProviderStats() Stats {
	entries := o.registry.List()
	stats := Stats{
		Strategy:       o.Strategy(),
		TotalProviders: len(entries),
		Providers:      make([]ProviderStats, 0, len(entries)),
	}

	for _, entry := range entries {
		available := entry.Provider.IsAvailable()
		if available {
			stats.AvailableProviders++
		}
		stats.Providers = append(stats.Providers, ProviderStats{
			Name:           entry.Provider.Name(),
			Priority:       entry.Priority,
			Primary:        entry.Primary,
			Enabled:        entry.Provider.Enabled(),
			Available:      available,
			CostMultiplier: entry.Provider.CostMultiplier(),
			Health:         entry.Provider.Health().Snapshot(),
		})
	}

	return stats
}

// StartHealthCheckWorker runs HealthCheckAll on every tick until ctx is done
func (o *Orchestrator) StartHealthCheckWorker(ctx context.Context, interval time.Duration, onCheck func(map[string]HealthReport)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("started provider health check worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			reports := o.HealthCheckAll(ctx)
			if onCheck != nil {
				onCheck(reports)
			}
		case <-ctx.Done():
			o.logger.Info("stopping provider health check worker")
			return
		}
	}
}
