package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/models"
	"github.com/namaskah/namaskah-sms/backend/repositories"
)

// ProviderEventRepository implements the repositories.ProviderEventRepository interface
type ProviderEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProviderEventRepository creates a new provider event repository
func NewProviderEventRepository(db *DB, logger *zap.Logger) repositories.ProviderEventRepository {
	return &ProviderEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new provider event
func (r *ProviderEventRepository) Insert(ctx context.Context, ev *models.ProviderEvent) error {
	query := `
		INSERT INTO provider_events (
			id, provider, operation, success, latency_ms, error_message, attempt, health_status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		ev.ID,
		ev.Provider,
		ev.Operation,
		ev.Success,
		ev.LatencyMs,
		ev.ErrorMessage,
		ev.Attempt,
		ev.HealthStatus,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider event: %w", err)
	}

	r.logger.Debug("provider event inserted",
		zap.String("id", ev.ID.String()),
		zap.String("provider", ev.Provider),
		zap.String("operation", ev.Operation))
	return nil
}

// ListRecent retrieves the newest events for a provider
func (r *ProviderEventRepository) ListRecent(ctx context.Context, provider string, limit int) ([]*models.ProviderEvent, error) {
	query := `
		SELECT id, provider, operation, success, latency_ms, error_message, attempt, health_status, created_at
		FROM provider_events
		WHERE provider = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider events: %w", err)
	}
	defer rows.Close()

	var events []*models.ProviderEvent
	for rows.Next() {
		ev := &models.ProviderEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.Provider,
			&ev.Operation,
			&ev.Success,
			&ev.LatencyMs,
			&ev.ErrorMessage,
			&ev.Attempt,
			&ev.HealthStatus,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider event rows: %w", err)
	}

	return events, nil
}
