package fivesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

const (
	defaultBaseURL = "https://5sim.net/v1"
	providerName   = "fivesim"
	currency       = "RUB"
)

// Config holds 5SIM API settings
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter implements providers.Vendor for the 5SIM REST API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new 5SIM adapter
func NewAdapter(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// GetBalance returns the account balance
func (a *Adapter) GetBalance(ctx context.Context) (*providers.Balance, error) {
	var profile profileResponse
	if err := a.get(ctx, "/user/profile", nil, &profile); err != nil {
		return nil, err
	}

	return &providers.Balance{
		Amount:   profile.Balance,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

// BuyNumber buys an activation on any operator
func (a *Adapter) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	path := fmt.Sprintf("/user/buy/activation/%s/any/%s",
		url.PathEscape(countryName(country)), url.PathEscape(strings.ToLower(service)))

	var order orderResponse
	if err := a.get(ctx, path, nil, &order); err != nil {
		return nil, err
	}

	return &providers.Activation{
		ActivationID: strconv.FormatInt(order.ID, 10),
		PhoneNumber:  order.Phone,
		Cost:         order.Price,
		Provider:     a.Name(),
	}, nil
}

// CheckSMS returns the latest SMS for an order
func (a *Adapter) CheckSMS(ctx context.Context, activationID string) (*providers.SMSResult, error) {
	var order orderResponse
	if err := a.get(ctx, "/user/check/"+url.PathEscape(activationID), nil, &order); err != nil {
		return nil, err
	}

	result := &providers.SMSResult{
		Status:   mapStatus(order.Status, len(order.SMS) > 0),
		Provider: a.Name(),
	}
	if n := len(order.SMS); n > 0 {
		result.SMSCode = order.SMS[n-1].Code
		result.SMSText = order.SMS[n-1].Text
	}

	return result, nil
}

// GetPricing returns the cheapest operator price for a country and product
func (a *Adapter) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	country = countryName(country)
	service = strings.ToLower(service)

	query := url.Values{}
	query.Set("country", country)
	query.Set("product", service)

	var prices map[string]map[string]map[string]operatorPrice
	if err := a.get(ctx, "/guest/prices", query, &prices); err != nil {
		return nil, err
	}

	best := -1.0
	for _, operators := range prices[country][service] {
		if operators.Count == 0 {
			continue
		}
		if best < 0 || operators.Cost < best {
			best = operators.Cost
		}
	}
	if best < 0 {
		return nil, providers.NewProviderError(a.Name(), "NO_PRICE",
			fmt.Sprintf("no price for %s/%s", country, service), http.StatusNotFound, false, nil)
	}

	return &providers.Pricing{
		Cost:     best,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

func (a *Adapter) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := a.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	// 5SIM answers some business errors with 200 and a plain-text body
	if text := strings.TrimSpace(string(respBody)); len(text) > 0 && text[0] != '{' && text[0] != '[' {
		return a.handleErrorResponse(http.StatusBadRequest, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return nil
}

// handleErrorResponse handles 5SIM error responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}

	code := "HTTP_" + strconv.Itoa(statusCode)
	retryable := providers.RetryableStatus(statusCode)

	switch message {
	case "no free phones":
		code, retryable = "NO_NUMBERS", false
	case "not enough user balance":
		code, retryable = "NO_BALANCE", false
	case "order not found":
		code, retryable = "NOT_FOUND", false
	}
	if statusCode == http.StatusUnauthorized {
		code, retryable = "BAD_KEY", false
	}

	return providers.NewProviderError(a.Name(), code, message, statusCode, retryable, errors.New(message))
}

// isoCountries maps ISO 3166 alpha-2 codes to 5SIM country slugs
var isoCountries = map[string]string{
	"us": "usa",
	"gb": "england",
	"uk": "england",
	"ru": "russia",
	"in": "india",
	"id": "indonesia",
	"br": "brazil",
	"de": "germany",
	"fr": "france",
}

func countryName(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if slug, ok := isoCountries[c]; ok {
		return slug
	}
	return c
}

func mapStatus(status string, hasSMS bool) providers.SMSStatus {
	switch status {
	case "RECEIVED", "FINISHED":
		if hasSMS {
			return providers.SMSStatusReceived
		}
		return providers.SMSStatusPending
	case "CANCELED", "BANNED":
		return providers.SMSStatusCancelled
	case "TIMEOUT":
		return providers.SMSStatusExpired
	default:
		return providers.SMSStatusPending
	}
}

// 5SIM-specific response types

type profileResponse struct {
	ID      int64   `json:"id"`
	Email   string  `json:"email"`
	Balance float64 `json:"balance"`
	Rating  float64 `json:"rating"`
}

type orderResponse struct {
	ID      int64        `json:"id"`
	Phone   string       `json:"phone"`
	Product string       `json:"product"`
	Price   float64      `json:"price"`
	Status  string       `json:"status"`
	SMS     []smsMessage `json:"sms"`
}

type smsMessage struct {
	Text string `json:"text"`
	Code string `json:"code"`
}

type operatorPrice struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}
