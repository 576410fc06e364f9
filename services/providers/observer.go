package providers

import "time"

// Operation names a vendor call for logging, metrics and audit
type Operation string

const (
	OpGetBalance  Operation = "get_balance"
	OpBuyNumber   Operation = "buy_number"
	OpCheckSMS    Operation = "check_sms"
	OpGetPricing  Operation = "get_pricing"
	OpHealthCheck Operation = "health_check"
)

// CallEvent describes one attempt against a vendor
type CallEvent struct {
	Provider  string
	Operation Operation
	Attempt   int
	Duration  time.Duration
	Err       error
	Status    HealthStatus
	At        time.Time
}

// Success reports whether the attempt succeeded
func (e CallEvent) Success() bool {
	return e.Err == nil
}

// CallObserver receives every attempt outcome after health has been updated.
// Implementations must not block.
type CallObserver interface {
	ObserveCall(event CallEvent)
}

// CallObserverFunc adapts a function to CallObserver
type CallObserverFunc func(event CallEvent)

// ObserveCall implements CallObserver
func (f CallObserverFunc) ObserveCall(event CallEvent) {
	f(event)
}
