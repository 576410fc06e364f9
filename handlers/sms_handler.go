package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/middleware"
	"github.com/namaskah/namaskah-sms/backend/services/providers"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// SMSService is the orchestrator surface used by SMSHandler
type SMSService interface {
	GetBalance(ctx context.Context) (*providers.Balance, error)
	BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error)
	CheckSMS(ctx context.Context, activationID, providerName string) (*providers.SMSResult, error)
	GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error)
}

// BuyNumberRequest is the body of POST /numbers
type BuyNumberRequest struct {
	Country string `json:"country" validate:"required,slug,max=32"`
	Service string `json:"service" validate:"required,slug,max=64"`
}

// PricingQuery holds the query parameters of GET /pricing
type PricingQuery struct {
	Country string `json:"country" validate:"required,slug,max=32"`
	Service string `json:"service" validate:"required,slug,max=64"`
}

// SMSHandler handles verification number requests
type SMSHandler struct {
	service SMSService
	logger  *zap.Logger
}

// NewSMSHandler creates a new SMSHandler
func NewSMSHandler(service SMSService, logger *zap.Logger) *SMSHandler {
	return &SMSHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetBalance handles GET /balance
func (h *SMSHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context())
	if err != nil {
		h.logFailure(r, "get balance", err)
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, balance)
}

// HandleBuyNumber handles POST /numbers
func (h *SMSHandler) HandleBuyNumber(w http.ResponseWriter, r *http.Request) {
	var req BuyNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	req.Country = utils.NormalizeSlug(req.Country)
	req.Service = utils.NormalizeSlug(req.Service)

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	activation, err := h.service.BuyNumber(r.Context(), req.Country, req.Service)
	if err != nil {
		h.logFailure(r, "buy number", err,
			zap.String("country", req.Country),
			zap.String("service", req.Service))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("number purchased",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("provider", activation.Provider),
		zap.String("activation_id", activation.ActivationID),
		zap.String("country", req.Country),
		zap.String("service", req.Service))

	_ = utils.WriteCreated(w, activation)
}

// HandleCheckSMS handles GET /numbers/{activationID}/sms
// The optional provider query parameter pins the activation to the vendor
// that issued it.
func (h *SMSHandler) HandleCheckSMS(w http.ResponseWriter, r *http.Request) {
	activationID := strings.TrimSpace(chi.URLParam(r, "activationID"))
	if err := utils.ValidateRequired(activationID, "activation_id"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	providerName := utils.NormalizeSlug(r.URL.Query().Get("provider"))

	result, err := h.service.CheckSMS(r.Context(), activationID, providerName)
	if err != nil {
		h.logFailure(r, "check sms", err,
			zap.String("activation_id", activationID),
			zap.String("provider", providerName))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleGetPricing handles GET /pricing?country=&service=
func (h *SMSHandler) HandleGetPricing(w http.ResponseWriter, r *http.Request) {
	q := PricingQuery{
		Country: utils.NormalizeSlug(r.URL.Query().Get("country")),
		Service: utils.NormalizeSlug(r.URL.Query().Get("service")),
	}
	if err := utils.ValidateStruct(q); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	pricing, err := h.service.GetPricing(r.Context(), q.Country, q.Service)
	if err != nil {
		h.logFailure(r, "get pricing", err)
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, pricing)
}

func (h *SMSHandler) logFailure(r *http.Request, op string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("operation", op),
		zap.Error(err))
	h.logger.Warn("sms request failed", fields...)
}
