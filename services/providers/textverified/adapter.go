package textverified

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

const (
	defaultBaseURL = "https://www.textverified.com"
	providerName   = "textverified"
	currency       = "USD"

	// tokenRefreshMargin renews bearer tokens shortly before they expire
	tokenRefreshMargin = 30 * time.Second
)

// Config holds TextVerified API settings
type Config struct {
	APIKey   string
	Username string
	BaseURL  string
	Timeout  time.Duration
}

// Adapter implements providers.Vendor for the TextVerified v2 API
type Adapter struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAdapter creates a new TextVerified adapter
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
		now: time.Now,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// GetBalance returns the account balance
func (a *Adapter) GetBalance(ctx context.Context) (*providers.Balance, error) {
	var account accountResponse
	if err := a.do(ctx, http.MethodGet, "/api/pub/v2/account/me", nil, &account); err != nil {
		return nil, err
	}

	return &providers.Balance{
		Amount:   account.CurrentBalance,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

// BuyNumber creates a verification and returns its reserved number
func (a *Adapter) BuyNumber(ctx context.Context, country, service string) (*providers.Activation, error) {
	if err := a.checkCountry(country); err != nil {
		return nil, err
	}

	req := verificationRequest{
		ServiceName: strings.ToLower(service),
		Capability:  "sms",
	}
	var link hrefResponse
	if err := a.do(ctx, http.MethodPost, "/api/pub/v2/verifications", req, &link); err != nil {
		return nil, err
	}

	id := path.Base(link.Href)
	if id == "" || id == "." || id == "/" {
		return nil, providers.NewProviderError(a.Name(), "UNEXPECTED_RESPONSE", "verification href missing", http.StatusCreated, false, nil)
	}

	verification, err := a.getVerification(ctx, id)
	if err != nil {
		return nil, err
	}

	return &providers.Activation{
		ActivationID: verification.ID,
		PhoneNumber:  normalizeNumber(verification.Number),
		Cost:         verification.TotalCost,
		Provider:     a.Name(),
	}, nil
}

// CheckSMS returns the latest SMS received for a verification
func (a *Adapter) CheckSMS(ctx context.Context, activationID string) (*providers.SMSResult, error) {
	query := url.Values{}
	query.Set("reservationId", activationID)

	var list smsListResponse
	if err := a.do(ctx, http.MethodGet, "/api/pub/v2/sms?"+query.Encode(), nil, &list); err != nil {
		return nil, err
	}

	if n := len(list.Data); n > 0 {
		latest := list.Data[n-1]
		return &providers.SMSResult{
			SMSCode:  latest.ParsedCode,
			SMSText:  latest.SMSContent,
			Status:   providers.SMSStatusReceived,
			Provider: a.Name(),
		}, nil
	}

	verification, err := a.getVerification(ctx, activationID)
	if err != nil {
		return nil, err
	}

	return &providers.SMSResult{
		Status:   mapState(verification.State),
		Provider: a.Name(),
	}, nil
}

// GetPricing returns the verification price for a service
func (a *Adapter) GetPricing(ctx context.Context, country, service string) (*providers.Pricing, error) {
	if err := a.checkCountry(country); err != nil {
		return nil, err
	}

	req := pricingRequest{
		ServiceName: strings.ToLower(service),
		AreaCode:    false,
		Carrier:     false,
		NumberType:  "mobile",
		Capability:  "sms",
	}
	var price pricingResponse
	if err := a.do(ctx, http.MethodPost, "/api/pub/v2/pricing/verifications", req, &price); err != nil {
		return nil, err
	}

	return &providers.Pricing{
		Cost:     price.Price,
		Currency: currency,
		Provider: a.Name(),
	}, nil
}

func (a *Adapter) getVerification(ctx context.Context, id string) (*verificationResponse, error) {
	var verification verificationResponse
	if err := a.do(ctx, http.MethodGet, "/api/pub/v2/verifications/"+url.PathEscape(id), nil, &verification); err != nil {
		return nil, err
	}
	return &verification, nil
}

// checkCountry rejects countries other than the United States
func (a *Adapter) checkCountry(country string) error {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "", "us", "usa":
		return nil
	}
	return providers.NewProviderError(a.Name(), "UNSUPPORTED_COUNTRY",
		fmt.Sprintf("country %s is not supported", country), http.StatusBadRequest, false, nil)
}

// bearerToken returns a cached token, exchanging the API key when needed
func (a *Adapter) bearerToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Add(tokenRefreshMargin).Before(a.tokenExpiry) {
		return a.token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/api/pub/v2/auth", nil)
	if err != nil {
		return "", providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create auth request", 0, false, err)
	}
	httpReq.Header.Set("X-API-KEY", a.config.APIKey)
	httpReq.Header.Set("X-API-USERNAME", a.config.Username)

	var auth authResponse
	if err := a.send(httpReq, &auth); err != nil {
		return "", err
	}
	if auth.Token == "" {
		return "", providers.NewProviderError(a.Name(), "AUTH_ERROR", "empty bearer token", http.StatusOK, false, nil)
	}

	a.token = auth.Token
	a.tokenExpiry = auth.expiry(a.now())
	return a.token, nil
}

func (a *Adapter) invalidateToken() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+endpoint, reader)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	err = a.send(httpReq, out)
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusUnauthorized {
		// expired token; the retry loop re-authenticates
		a.invalidateToken()
		provErr.Retryable = true
	}
	return err
}

func (a *Adapter) send(httpReq *http.Request, out interface{}) error {
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return nil
}

// handleErrorResponse handles TextVerified error responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.ErrorCode == "" {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(statusCode)
		}
		return providers.NewProviderError(a.Name(), "HTTP_"+strconv.Itoa(statusCode), message,
			statusCode, providers.RetryableStatus(statusCode), errors.New(message))
	}

	return providers.NewProviderError(
		a.Name(),
		errResp.ErrorCode,
		errResp.ErrorDescription,
		statusCode,
		providers.RetryableStatus(statusCode),
		errors.New(errResp.ErrorDescription),
	)
}

func normalizeNumber(number string) string {
	if number == "" || strings.HasPrefix(number, "+") {
		return number
	}
	if len(number) == 10 {
		return "+1" + number
	}
	return "+" + number
}

func mapState(state string) providers.SMSStatus {
	switch strings.ToLower(state) {
	case "verificationcanceled", "verificationrefunded", "canceled", "refunded":
		return providers.SMSStatusCancelled
	case "verificationtimedout", "timedout", "expired":
		return providers.SMSStatusExpired
	case "verificationcompleted", "completed":
		return providers.SMSStatusReceived
	default:
		return providers.SMSStatusPending
	}
}

// TextVerified-specific request/response types

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresIn float64   `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r authResponse) expiry(now time.Time) time.Time {
	if !r.ExpiresAt.IsZero() {
		return r.ExpiresAt
	}
	if r.ExpiresIn > 0 {
		return now.Add(time.Duration(r.ExpiresIn * float64(time.Second)))
	}
	return now.Add(5 * time.Minute)
}

type accountResponse struct {
	Username       string  `json:"username"`
	CurrentBalance float64 `json:"currentBalance"`
}

type verificationRequest struct {
	ServiceName string `json:"serviceName"`
	Capability  string `json:"capability"`
}

type hrefResponse struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

type verificationResponse struct {
	ID        string  `json:"id"`
	Number    string  `json:"number"`
	TotalCost float64 `json:"totalCost"`
	State     string  `json:"state"`
}

type smsListResponse struct {
	Data []smsResponse `json:"data"`
}

type smsResponse struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	SMSContent string `json:"smsContent"`
	ParsedCode string `json:"parsedCode"`
}

type pricingRequest struct {
	ServiceName string `json:"serviceName"`
	AreaCode    bool   `json:"areaCode"`
	Carrier     bool   `json:"carrier"`
	NumberType  string `json:"numberType"`
	Capability  string `json:"capability"`
}

type pricingResponse struct {
	ServiceName string  `json:"serviceName"`
	Price       float64 `json:"price"`
}

type errorResponse struct {
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}
