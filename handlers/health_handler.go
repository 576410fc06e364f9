package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProviderStatus reports how many providers can currently serve traffic
type ProviderStatus interface {
	GetProviderStats() orchestrator.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	providers ProviderStatus
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil db skips the
// database check.
func NewHealthHandler(db *sql.DB, providers ProviderStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only, always 200 while the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready when the database answers and at least one provider is available.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.providers != nil {
		stats := h.providers.GetProviderStats()
		checks["providers_available"] = strconv.Itoa(stats.AvailableProviders) + "/" + strconv.Itoa(stats.TotalProviders)
		if stats.AvailableProviders == 0 {
			h.logger.Warn("no SMS provider available", zap.Int("registered", stats.TotalProviders))
			checks["providers"] = "unhealthy"
			allHealthy = false
		} else {
			checks["providers"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
