package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/middleware"
	"github.com/namaskah/namaskah-sms/backend/models"
	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
	"github.com/namaskah/namaskah-sms/backend/services/ratelimit"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

const healthCheckTimeout = 15 * time.Second

// ProviderAdmin is the orchestrator surface used by AdminHandler
type ProviderAdmin interface {
	HealthCheckAll(ctx context.Context) map[string]orchestrator.HealthReport
	GetProviderStats() orchestrator.Stats
	EnableProvider(ctx context.Context, name string) (orchestrator.HealthReport, error)
	DisableProvider(name string) error
	SetStrategy(strategy orchestrator.Strategy) error
}

// LimiterStats exposes in-memory limiter counters
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// DecisionHistory exposes persisted rate limit counters
type DecisionHistory interface {
	Totals(ctx context.Context) (ratelimit.Counters, error)
	Minute(ctx context.Context, at time.Time) (ratelimit.Counters, error)
	DenialReasons(ctx context.Context) (map[string]int64, error)
}

// EventReader returns recorded provider calls
type EventReader interface {
	RecentEvents(ctx context.Context, provider string, limit int) ([]*models.ProviderEvent, error)
}

// SetStrategyRequest is the body of PUT /strategy
type SetStrategyRequest struct {
	Strategy string `json:"strategy" validate:"required,oneof=primary_only round_robin cost_optimized health_aware"`
}

// RateLimitStatsResponse combines live limiter state with persisted counters
type RateLimitStatsResponse struct {
	Limiter       ratelimit.Stats     `json:"limiter"`
	Totals        *ratelimit.Counters `json:"totals,omitempty"`
	CurrentMinute *ratelimit.Counters `json:"current_minute,omitempty"`
	DenialReasons map[string]int64    `json:"denial_reasons,omitempty"`
}

// AdminHandler handles operator endpoints for providers and rate limiting
type AdminHandler struct {
	providers ProviderAdmin
	limiter   LimiterStats
	history   DecisionHistory
	events    EventReader
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdminHandler creates a new AdminHandler. history and events may be nil
// when Redis or the database are not configured.
func NewAdminHandler(providers ProviderAdmin, limiter LimiterStats, history DecisionHistory, events EventReader, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		providers: providers,
		limiter:   limiter,
		history:   history,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleProvidersHealth handles GET /providers/health
// Runs a health check against every registered provider.
func (h *AdminHandler) HandleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	_ = utils.WriteOK(w, h.providers.HealthCheckAll(ctx))
}

// HandleProvidersStats handles GET /providers/stats
func (h *AdminHandler) HandleProvidersStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.providers.GetProviderStats())
}

// HandleEnableProvider handles POST /providers/{name}/enable
// The provider is health checked before the response is written.
func (h *AdminHandler) HandleEnableProvider(w http.ResponseWriter, r *http.Request) {
	name := utils.NormalizeSlug(chi.URLParam(r, "name"))

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report, err := h.providers.EnableProvider(ctx, name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logToggle(r, name, true)
	_ = utils.WriteOK(w, map[string]interface{}{
		"provider":  name,
		"enabled":   true,
		"available": report.Available,
		"health":    report.Health,
	})
}

// HandleDisableProvider handles POST /providers/{name}/disable
func (h *AdminHandler) HandleDisableProvider(w http.ResponseWriter, r *http.Request) {
	name := utils.NormalizeSlug(chi.URLParam(r, "name"))

	if err := h.providers.DisableProvider(name); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logToggle(r, name, false)
	_ = utils.WriteOK(w, map[string]interface{}{
		"provider": name,
		"enabled":  false,
	})
}

func (h *AdminHandler) logToggle(r *http.Request, name string, enabled bool) {
	h.logger.Info("provider toggled",
		zap.String("provider", name),
		zap.Bool("enabled", enabled),
		zap.String("actor", middleware.GetIdentityFromContext(r.Context())))
}

// HandleSetStrategy handles PUT /strategy
func (h *AdminHandler) HandleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var req SetStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.providers.SetStrategy(orchestrator.Strategy(req.Strategy)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("routing strategy updated",
		zap.String("strategy", req.Strategy),
		zap.String("actor", middleware.GetIdentityFromContext(r.Context())))

	_ = utils.WriteOK(w, map[string]string{"strategy": req.Strategy})
}

// HandleRateLimitStats handles GET /ratelimit/stats
func (h *AdminHandler) HandleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	resp := RateLimitStatsResponse{Limiter: h.limiter.Stats()}

	if h.history != nil {
		ctx := r.Context()
		// persisted counters are best effort
		if totals, err := h.history.Totals(ctx); err == nil {
			resp.Totals = &totals
		} else {
			h.logger.Warn("failed to read rate limit totals", zap.Error(err))
		}
		if minute, err := h.history.Minute(ctx, h.now()); err == nil {
			resp.CurrentMinute = &minute
		} else {
			h.logger.Warn("failed to read rate limit minute counters", zap.Error(err))
		}
		if reasons, err := h.history.DenialReasons(ctx); err == nil {
			resp.DenialReasons = reasons
		} else {
			h.logger.Warn("failed to read denial reasons", zap.Error(err))
		}
	}

	_ = utils.WriteOK(w, resp)
}

// HandleProviderEvents handles GET /providers/{name}/events?limit=
func (h *AdminHandler) HandleProviderEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		_ = utils.WriteServiceUnavailable(w, "Provider event history is not enabled")
		return
	}

	name := utils.NormalizeSlug(chi.URLParam(r, "name"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	events, err := h.events.RecentEvents(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("failed to load provider events", zap.String("provider", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to load provider events")
		return
	}
	if events == nil {
		events = []*models.ProviderEvent{}
	}

	_ = utils.WriteOK(w, events)
}
