package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
	"github.com/namaskah/namaskah-sms/backend/services/providers"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// MockSMSService is a mock implementation of SMSService
type MockSMSService struct {
	mock.Mock
}

func (m *MockSMSService) GetBalance(ctx context.Context) (*providers.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Balance), args.Error(1)
}

func (m *MockSMSService) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	args := m.Called(ctx, country, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Activation), args.Error(1)
}

func (m *MockSMSService) CheckSMS(ctx context.Context, activationID, providerName string) (*providers.SMSResult, error) {
	args := m.Called(ctx, activationID, providerName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.SMSResult), args.Error(1)
}

func (m *MockSMSService) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	args := m.Called(ctx, country, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Pricing), args.Error(1)
}

func smsRouter(h *SMSHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/balance", h.HandleGetBalance)
	r.Post("/numbers", h.HandleBuyNumber)
	r.Get("/numbers/{activationID}/sms", h.HandleCheckSMS)
	r.Get("/pricing", h.HandleGetPricing)
	return r
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHandleGetBalance(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns balance", func(t *testing.T) {
		svc := new(MockSMSService)
		svc.On("GetBalance", mock.Anything).Return(&providers.Balance{Amount: 42.5, Currency: "USD", Provider: "fivesim"}, nil)

		w := httptest.NewRecorder()
		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/balance", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var balance providers.Balance
		decodeData(t, w, &balance)
		assert.Equal(t, 42.5, balance.Amount)
		assert.Equal(t, "USD", balance.Currency)
		svc.AssertExpectations(t)
	})

	t.Run("no provider available returns 503", func(t *testing.T) {
		svc := new(MockSMSService)
		svc.On("GetBalance", mock.Anything).Return(nil, orchestrator.ErrNoProviderAvailable)

		w := httptest.NewRecorder()
		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/balance", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleBuyNumber(t *testing.T) {
	logger := zap.NewNop()

	t.Run("purchases normalized country and service", func(t *testing.T) {
		svc := new(MockSMSService)
		svc.On("BuyNumber", mock.Anything, "us", "telegram").Return(&providers.Activation{
			ActivationID: "123456",
			PhoneNumber:  "+15551234567",
			Cost:         0.75,
			Provider:     "smsactivate",
		}, nil)

		body, _ := json.Marshal(BuyNumberRequest{Country: " US ", Service: "Telegram"})
		req := httptest.NewRequest(http.MethodPost, "/numbers", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var activation providers.Activation
		decodeData(t, w, &activation)
		assert.Equal(t, "123456", activation.ActivationID)
		assert.Equal(t, "+15551234567", activation.PhoneNumber)
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON returns 400", func(t *testing.T) {
		svc := new(MockSMSService)
		req := httptest.NewRequest(http.MethodPost, "/numbers", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()

		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "BuyNumber", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing and malformed fields return 400", func(t *testing.T) {
		svc := new(MockSMSService)
		body, _ := json.Marshal(map[string]string{"service": "tele gram!"})
		req := httptest.NewRequest(http.MethodPost, "/numbers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Contains(t, response.Details, "country")
		assert.Contains(t, response.Details, "service")
		svc.AssertNotCalled(t, "BuyNumber", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exhausted providers return 502 without vendor details", func(t *testing.T) {
		svc := new(MockSMSService)
		vendorErr := &providers.ProviderError{Provider: "textverified", Code: "NO_NUMBERS", Message: "textverified has no numbers"}
		svc.On("BuyNumber", mock.Anything, "us", "whatsapp").
			Return(nil, fmt.Errorf("%w: %w", orchestrator.ErrAllProvidersFailed, vendorErr))

		body, _ := json.Marshal(BuyNumberRequest{Country: "us", Service: "whatsapp"})
		req := httptest.NewRequest(http.MethodPost, "/numbers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "textverified")
	})
}

func TestHandleCheckSMS(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name         string
		url          string
		provider     string
		result       *providers.SMSResult
		err          error
		expectedCode int
	}{
		{
			name:         "code received",
			url:          "/numbers/abc123/sms?provider=FiveSim",
			provider:     "fivesim",
			result:       &providers.SMSResult{SMSCode: "481516", Status: providers.SMSStatusReceived, Provider: "fivesim"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "pending without provider hint",
			url:          "/numbers/abc123/sms",
			provider:     "",
			result:       &providers.SMSResult{Status: providers.SMSStatusPending, Provider: "smsactivate"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "unknown activation",
			url:          "/numbers/abc123/sms?provider=smsactivate",
			provider:     "smsactivate",
			err:          &providers.ProviderError{Provider: "smsactivate", Code: "NO_ACTIVATION"},
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "unregistered provider",
			url:          "/numbers/abc123/sms?provider=acme",
			provider:     "acme",
			err:          fmt.Errorf("%w: acme", providers.ErrProviderNotFound),
			expectedCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSMSService)
			if tt.err != nil {
				svc.On("CheckSMS", mock.Anything, "abc123", tt.provider).Return(nil, tt.err)
			} else {
				svc.On("CheckSMS", mock.Anything, "abc123", tt.provider).Return(tt.result, nil)
			}

			w := httptest.NewRecorder()
			smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.result != nil {
				var got providers.SMSResult
				decodeData(t, w, &got)
				assert.Equal(t, *tt.result, got)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandleGetPricing(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns pricing", func(t *testing.T) {
		svc := new(MockSMSService)
		svc.On("GetPricing", mock.Anything, "gb", "google").Return(&providers.Pricing{Cost: 1.2, Currency: "USD", Provider: "smsactivate"}, nil)

		w := httptest.NewRecorder()
		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pricing?country=GB&service=google", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var pricing providers.Pricing
		decodeData(t, w, &pricing)
		assert.Equal(t, 1.2, pricing.Cost)
	})

	t.Run("missing query parameters", func(t *testing.T) {
		svc := new(MockSMSService)

		w := httptest.NewRecorder()
		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pricing?country=gb", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "GetPricing", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unsupported country maps to 400", func(t *testing.T) {
		svc := new(MockSMSService)
		svc.On("GetPricing", mock.Anything, "fr", "google").
			Return(nil, &providers.ProviderError{Provider: "textverified", Code: "UNSUPPORTED_COUNTRY"})

		w := httptest.NewRecorder()
		smsRouter(NewSMSHandler(svc, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pricing?country=fr&service=google", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotContains(t, w.Body.String(), "textverified")
	})
}
