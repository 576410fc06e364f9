package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/namaskah/namaskah-sms/backend/app"
	"github.com/namaskah/namaskah-sms/backend/handlers"
	"github.com/namaskah/namaskah-sms/backend/middleware"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Orchestrator, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	sms := handlers.NewSMSHandler(deps.Orchestrator, deps.Logger)
	admin := newAdminHandler(deps)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.Identify)
		r.Use(deps.RateLimitMiddleware.Limit)

		r.Get("/balance", sms.HandleGetBalance)
		r.Post("/numbers", sms.HandleBuyNumber)
		r.Get("/numbers/{activationID}/sms", sms.HandleCheckSMS)
		r.Get("/pricing", sms.HandleGetPricing)

		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))

			r.Get("/providers/health", admin.HandleProvidersHealth)
			r.Get("/providers/stats", admin.HandleProvidersStats)
			r.Post("/providers/{name}/enable", admin.HandleEnableProvider)
			r.Post("/providers/{name}/disable", admin.HandleDisableProvider)
			r.Get("/providers/{name}/events", admin.HandleProviderEvents)
			r.Put("/strategy", admin.HandleSetStrategy)
			r.Get("/ratelimit/stats", admin.HandleRateLimitStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// newAdminHandler leaves optional backends as untyped nil when they are off
func newAdminHandler(deps *app.Dependencies) *handlers.AdminHandler {
	var history handlers.DecisionHistory
	if deps.RateLimitStats != nil {
		history = deps.RateLimitStats
	}
	var events handlers.EventReader
	if deps.Audit != nil {
		events = deps.Audit
	}
	return handlers.NewAdminHandler(deps.Orchestrator, deps.Limiter, history, events, deps.Logger)
}
