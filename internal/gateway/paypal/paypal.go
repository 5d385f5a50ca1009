package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studyowl/creditgate/internal/config"
	"github.com/studyowl/creditgate/internal/gateway/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "paypal"
}

func (f *Factory) NewProvider(cfg config.GatewayConfig) (domain.Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, domain.ErrMissingCredentials
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api-m.sandbox.paypal.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// Provider talks to the PayPal Orders v2 REST API. Access tokens are
// cached until shortly before expiry.
type Provider struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func (p *Provider) Name() string { return "paypal" }

func (p *Provider) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.Reference,
				"description":  req.Description,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         formatAmount(req.AmountMinor),
				},
			},
		},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.post(ctx, "/v2/checkout/orders", body, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, fmt.Errorf("paypal create order: empty order id")
	}
	return &domain.Order{OrderID: resp.ID, Status: resp.Status}, nil
}

func (p *Provider) CaptureOrder(ctx context.Context, orderID string) (*domain.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrOrderNotFound
	}

	var resp captureResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	if err := p.post(ctx, path, map[string]any{}, &resp); err != nil {
		return nil, err
	}

	result := &domain.CaptureResult{
		OrderID:    resp.ID,
		Status:     strings.ToUpper(strings.TrimSpace(resp.Status)),
		PayerEmail: resp.Payer.EmailAddress,
	}
	for _, unit := range resp.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			result.CaptureID = capture.ID
			minor, err := parseAmount(capture.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("paypal capture amount %q: %w", capture.Amount.Value, err)
			}
			result.CapturedAmountMinor = minor
		}
	}
	return result, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", "return=representation")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrOrderNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("paypal %s: %s %s (status %d)", path, apiErr.Name, apiErr.Message, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) token(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", fmt.Errorf("paypal token: empty access token")
	}

	p.accessToken = body.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

// formatAmount renders minor units as the gateway's decimal string,
// e.g. 1000 -> "10.00".
func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// parseAmount converts the gateway's decimal string to minor units,
// e.g. "10.00" -> 1000.
func parseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, domain.ErrInvalidAmount
	}

	whole, frac, _ := strings.Cut(value, ".")
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, value)
	}

	var cents int64
	if frac != "" {
		// The captured amount feeds the payment check, so anything finer
		// than cents is rejected rather than rounded away.
		if len(frac) > 2 {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, value)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, value)
		}
	}

	if major < 0 {
		return major*100 - cents, nil
	}
	return major*100 + cents, nil
}
