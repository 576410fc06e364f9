package observability

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
	"github.com/namaskah/namaskah-sms/backend/services/ratelimit"
)

const namespace = "namaskah"

// Metrics collects provider call and rate limiter metrics. It implements
// providers.CallObserver and ratelimit.StatsRecorder.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerHealth   *prometheus.GaugeVec
	rateDecisions    *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance backed by its own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Vendor call attempts by outcome",
			},
			[]string{"provider", "operation", "result"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Latency of individual vendor call attempts",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),
		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health_status",
				Help:      "Provider health: 0 healthy, 1 degraded, 2 unhealthy",
			},
			[]string{"provider"},
		),
		rateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limiter decisions by reason",
			},
			[]string{"allowed", "reason"},
		),
	}

	m.registry.MustRegister(
		m.providerCalls,
		m.providerDuration,
		m.providerHealth,
		m.rateDecisions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCall implements providers.CallObserver
func (m *Metrics) ObserveCall(ev providers.CallEvent) {
	result := "success"
	if !ev.Success() {
		result = "failure"
	}
	op := string(ev.Operation)
	m.providerCalls.WithLabelValues(ev.Provider, op, result).Inc()
	m.providerDuration.WithLabelValues(ev.Provider, op).Observe(ev.Duration.Seconds())
	m.SetProviderHealth(ev.Provider, ev.Status)
}

// SetProviderHealth publishes the current health class of a provider
func (m *Metrics) SetProviderHealth(provider string, status providers.HealthStatus) {
	var v float64
	switch status {
	case providers.StatusDegraded:
		v = 1
	case providers.StatusUnhealthy:
		v = 2
	}
	m.providerHealth.WithLabelValues(provider).Set(v)
}

// Record implements ratelimit.StatsRecorder
func (m *Metrics) Record(_ context.Context, ev ratelimit.StatsEvent) error {
	m.rateDecisions.WithLabelValues(strconv.FormatBool(ev.Allowed), string(ev.Reason)).Inc()
	return nil
}

// RegisterSystemLoad exposes the limiter's load estimate as a gauge
func (m *Metrics) RegisterSystemLoad(load func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_system_load",
			Help:      "Current rate limiter system load between 0 and 1",
		},
		load,
	))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
