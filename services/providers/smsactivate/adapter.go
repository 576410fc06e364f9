package smsactivate

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
	defaultBaseURL = "https://api.sms-activate.org/stubs/handler_api.php"
	providerName   = "smsactivate"
	currency       = "RUB"
)

// Config holds SMS-Activate API settings
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter implements providers.Vendor for the SMS-Activate handler API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new SMS-Activate adapter
func NewAdapter(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

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
	body, err := a.call(ctx, "getBalance", nil)
	if err != nil {
		return nil, err
	}

	value, ok := strings.CutPrefix(body, "ACCESS_BALANCE:")
	if !ok {
		return nil, a.unexpected(body)
	}
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "PARSE_ERROR", "invalid balance", http.StatusOK, false, err)
	}

	return &providers.Balance{
		Amount:   amount,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

// BuyNumber requests a number for a service in a country
func (a *Adapter) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	params := url.Values{}
	params.Set("service", serviceCode(service))
	params.Set("country", countryCode(country))

	body, err := a.call(ctx, "getNumberV2", params)
	if err != nil {
		return nil, err
	}

	var resp numberResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, a.unexpected(body)
	}
	if resp.ActivationID == "" || resp.PhoneNumber == "" {
		return nil, a.unexpected(body)
	}

	cost, err := resp.ActivationCost.Float64()
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "PARSE_ERROR", "invalid activation cost", http.StatusOK, false, err)
	}

	activation := &providers.Activation{
		ActivationID: resp.ActivationID.String(),
		PhoneNumber:  resp.PhoneNumber,
		Cost:         cost,
		Provider:     a.Name(),
	}
	if !strings.HasPrefix(activation.PhoneNumber, "+") {
		activation.PhoneNumber = "+" + activation.PhoneNumber
	}

	return activation, nil
}

// CheckSMS polls the activation status
func (a *Adapter) CheckSMS(ctx context.Context, activationID string) (*providers.SMSResult, error) {
	params := url.Values{}
	params.Set("id", activationID)

	body, err := a.call(ctx, "getStatus", params)
	if err != nil {
		return nil, err
	}

	result := &providers.SMSResult{Provider: a.Name()}
	status, value, _ := strings.Cut(body, ":")
	switch status {
	case "STATUS_OK":
		result.Status = providers.SMSStatusReceived
		result.SMSCode = value
		result.SMSText = value
	case "STATUS_WAIT_CODE", "STATUS_WAIT_RETRY", "STATUS_WAIT_RESEND":
		result.Status = providers.SMSStatusPending
	case "STATUS_CANCEL":
		result.Status = providers.SMSStatusCancelled
	default:
		return nil, a.unexpected(body)
	}

	return result, nil
}

// GetPricing returns the activation price for a service in a country
func (a *Adapter) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	cc := countryCode(country)
	sc := serviceCode(service)

	params := url.Values{}
	params.Set("service", sc)
	params.Set("country", cc)

	body, err := a.call(ctx, "getPrices", params)
	if err != nil {
		return nil, err
	}

	var prices map[string]map[string]servicePrice
	if err := json.Unmarshal([]byte(body), &prices); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal prices", http.StatusOK, false, err)
	}

	price, ok := prices[cc][sc]
	if !ok {
		return nil, providers.NewProviderError(a.Name(), "NO_PRICE",
			fmt.Sprintf("no price for country %s service %s", cc, sc), http.StatusNotFound, false, nil)
	}

	return &providers.Pricing{
		Cost:     price.Cost,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

// call performs one handler_api request and returns the trimmed body.
// Known error tokens are converted to ProviderErrors.
func (a *Adapter) call(ctx context.Context, action string, params url.Values) (string, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("api_key", a.config.APIKey)
	query.Set("action", action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, true, err)
	}

	body := strings.TrimSpace(string(respBody))
	if httpResp.StatusCode != http.StatusOK {
		return "", providers.NewProviderError(a.Name(), "HTTP_"+strconv.Itoa(httpResp.StatusCode), body,
			httpResp.StatusCode, providers.RetryableStatus(httpResp.StatusCode), errors.New(http.StatusText(httpResp.StatusCode)))
	}

	if retryable, known := errorTokens[body]; known {
		return "", providers.NewProviderError(a.Name(), body, strings.ToLower(strings.ReplaceAll(body, "_", " ")),
			httpResp.StatusCode, retryable, errors.New(body))
	}

	return body, nil
}

func (a *Adapter) unexpected(body string) error {
	return providers.NewProviderError(a.Name(), "UNEXPECTED_RESPONSE", "unexpected response: "+body, http.StatusOK, false, nil)
}

// errorTokens lists handler_api error bodies and whether they are retryable
var errorTokens = map[string]bool{
	"BAD_KEY":             false,
	"BAD_ACTION":          false,
	"BAD_SERVICE":         false,
	"BAD_STATUS":          false,
	"NO_NUMBERS":          false,
	"NO_BALANCE":          false,
	"NO_ACTIVATION":       false,
	"WRONG_ACTIVATION_ID": false,
	"BANNED":              false,
	"ERROR_SQL":           true,
}

// services maps common service names to SMS-Activate service codes
var services = map[string]string{
	"telegram":  "tg",
	"whatsapp":  "wa",
	"google":    "go",
	"facebook":  "fb",
	"instagram": "ig",
	"twitter":   "tw",
	"discord":   "ds",
	"tiktok":    "lf",
}

// countries maps ISO 3166 alpha-2 codes to SMS-Activate country ids
var countries = map[string]string{
	"ru": "0",
	"ua": "1",
	"gb": "16",
	"uk": "16",
	"in": "22",
	"id": "6",
	"de": "43",
	"fr": "78",
	"br": "73",
	"us": "187",
}

func serviceCode(service string) string {
	s := strings.ToLower(strings.TrimSpace(service))
	if code, ok := services[s]; ok {
		return code
	}
	return s
}

func countryCode(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if code, ok := countries[c]; ok {
		return code
	}
	return c
}

type servicePrice struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}

// numberResponse is the getNumberV2 body. Ids and costs arrive either
// quoted or bare depending on the account.
type numberResponse struct {
	ActivationID   json.Number `json:"activationId"`
	PhoneNumber    string      `json:"phoneNumber"`
	ActivationCost json.Number `json:"activationCost"`
}
