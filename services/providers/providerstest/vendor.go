// Package providerstest provides a scripted Vendor for tests.
package providerstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

// Vendor is an in-memory providers.Vendor whose failures can be scripted
type Vendor struct {
	name string

	mu      sync.Mutex
	calls   map[providers.Operation]int
	queued  map[providers.Operation][]error
	failAll error
	panics  bool

	// Cost is returned by GetPricing and BuyNumber
	Cost float64

	// Currency is returned by GetBalance and GetPricing
	Currency string
}

// New creates a vendor that succeeds on every call
func New(name string) *Vendor {
	return &Vendor{
		name:     name,
		calls:    make(map[providers.Operation]int),
		queued:   make(map[providers.Operation][]error),
		Cost:     1.0,
		Currency: "USD",
	}
}

// FailWith makes every subsequent call fail with err. A nil err restores success.
func (v *Vendor) FailWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failAll = err
}

// FailNext queues errors returned by the next calls of op, in order
func (v *Vendor) FailNext(op providers.Operation, errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queued[op] = append(v.queued[op], errs...)
}

// PanicOnBalance makes GetBalance panic
func (v *Vendor) PanicOnBalance() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panics = true
}

// Calls returns how many times op was invoked
func (v *Vendor) Calls(op providers.Operation) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// TotalCalls returns the number of invocations across all operations
func (v *Vendor) TotalCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := 0
	for _, n := range v.calls {
		total += n
	}
	return total
}

func (v *Vendor) begin(op providers.Operation) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.calls[op]++
	n := v.calls[op]
	if q := v.queued[op]; len(q) > 0 {
		v.queued[op] = q[1:]
		if q[0] != nil {
			return n, q[0]
		}
	}
	return n, v.failAll
}

// Name implements providers.Vendor
func (v *Vendor) Name() string {
	return v.name
}

// GetBalance implements providers.Vendor
func (v *Vendor) GetBalance(ctx context.Context) (*providers.Balance, error) {
	v.mu.Lock()
	panics := v.panics
	v.mu.Unlock()
	if panics {
		panic("providerstest: balance panic")
	}

	if _, err := v.begin(providers.OpGetBalance); err != nil {
		return nil, err
	}
	return &providers.Balance{Amount: 100, Currency: v.Currency, Provider: v.name}, nil
}

// BuyNumber implements providers.Vendor
func (v *Vendor) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	n, err := v.begin(providers.OpBuyNumber)
	if err != nil {
		return nil, err
	}
	return &providers.Activation{
		ActivationID: fmt.Sprintf("%s-%d", v.name, n),
		PhoneNumber:  fmt.Sprintf("+1555000%04d", n),
		Cost:         v.Cost,
		Provider:     v.name,
	}, nil
}

// CheckSMS implements providers.Vendor
func (v *Vendor) CheckSMS(ctx context.Context, activationID string) (*providers.SMSResult, error) {
	if _, err := v.begin(providers.OpCheckSMS); err != nil {
		return nil, err
	}
	return &providers.SMSResult{
		SMSCode:  "123456",
		SMSText:  "Your code is 123456",
		Status:   providers.SMSStatusReceived,
		Provider: v.name,
	}, nil
}

// GetPricing implements providers.Vendor
func (v *Vendor) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	if _, err := v.begin(providers.OpGetPricing); err != nil {
		return nil, err
	}
	return &providers.Pricing{Cost: v.Cost, Currency: v.Currency, Provider: v.name}, nil
}
