package repositories

import (
	"context"

	"github.com/namaskah/namaskah-sms/backend/models"
)

// ProviderEventRepository handles provider call history
type ProviderEventRepository interface {
	// Insert stores a single provider event
	Insert(ctx context.Context, event *models.ProviderEvent) error

	// ListRecent returns the newest events for a provider, newest first
	ListRecent(ctx context.Context, provider string, limit int) ([]*models.ProviderEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	ProviderEvents ProviderEventRepository
}
