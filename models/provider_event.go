package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderEvent records a single vendor call attempt
type ProviderEvent struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Provider     string    `json:"provider" db:"provider"`
	Operation    string    `json:"operation" db:"operation"`
	Success      bool      `json:"success" db:"success"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	Attempt      int       `json:"attempt" db:"attempt"`
	HealthStatus string    `json:"health_status" db:"health_status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ProviderEvent model
func (ProviderEvent) TableName() string {
	return "provider_events"
}

// NewProviderEvent creates a new ProviderEvent instance
func NewProviderEvent(provider, operation string, attempt int, latency time.Duration) *ProviderEvent {
	return &ProviderEvent{
		ID:        uuid.New(),
		Provider:  provider,
		Operation: operation,
		Success:   true,
		LatencyMs: latency.Milliseconds(),
		Attempt:   attempt,
		CreatedAt: time.Now().UTC(),
	}
}

// WithError marks the event as failed
func (e *ProviderEvent) WithError(msg string) *ProviderEvent {
	e.Success = false
	e.ErrorMessage = &msg
	return e
}
