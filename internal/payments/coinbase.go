package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"L402Paywall/internal/models"
)

const (
	CoinbaseSignatureHeader = "X-CC-Webhook-Signature"
	coinbaseAPIVersion      = "2018-03-22"
)

type CoinbaseConfig struct {
	APIURL        string
	APIKey        string
	WebhookSecret string
	DefaultAsset  string
	DefaultChain  string
	HTTPClient    *http.Client
}

type CoinbaseProvider struct {
	apiURL string
	apiKey string
	asset  string
	chain  string
	client *http.Client
	scheme *CoinbaseScheme
}

func NewCoinbaseProvider(cfg CoinbaseConfig) (*CoinbaseProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("coinbase api key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("coinbase webhook secret is required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.commerce.coinbase.com"
	}
	asset := cfg.DefaultAsset
	if asset == "" {
		asset = "USDC"
	}
	return &CoinbaseProvider{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: cfg.APIKey,
		asset:  strings.ToUpper(asset),
		chain:  cfg.DefaultChain,
		client: defaultHTTPClient(cfg.HTTPClient),
		scheme: &CoinbaseScheme{Secret: []byte(cfg.WebhookSecret)},
	}, nil
}

func (p *CoinbaseProvider) Name() models.Provider { return models.ProviderCoinbase }

func (p *CoinbaseProvider) WebhookScheme() WebhookScheme { return p.scheme }

type coinbaseChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  coinbaseMoney     `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
}

type coinbaseMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type coinbaseCharge struct {
	ID        string            `json:"id"`
	Code      string            `json:"code"`
	HostedURL string            `json:"hosted_url"`
	ExpiresAt string            `json:"expires_at"`
	Addresses map[string]string `json:"addresses"`
}

func (p *CoinbaseProvider) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if asset == "" {
		asset = p.asset
	}
	chain := strings.TrimSpace(req.Chain)
	if chain == "" {
		chain = p.chain
	}

	body := coinbaseChargeRequest{
		Name:        "API Credits",
		Description: req.Description,
		PricingType: "fixed_price",
		LocalPrice:  coinbaseMoney{Amount: req.Amount.StringFixed(2), Currency: req.Currency},
		Metadata: map[string]string{
			"intent_token": req.IntentToken,
			"offer_id":     req.OfferID,
		},
	}
	headers := map[string]string{
		"X-CC-Api-Key": p.apiKey,
		"X-CC-Version": coinbaseAPIVersion,
	}
	var resp struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := postJSON(ctx, p.client, p.apiURL+"/charges", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("coinbase create charge: %w", err)
	}
	if resp.Data.ID == "" || resp.Data.HostedURL == "" {
		return nil, errors.New("coinbase create charge: response missing id or hosted_url")
	}

	result := &PaymentResult{
		Reference:   resp.Data.ID,
		CheckoutURL: resp.Data.HostedURL,
		Asset:       asset,
		Chain:       chain,
		Address:     pickAddress(resp.Data.Addresses, asset, chain),
	}
	if resp.Data.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.Data.ExpiresAt); err == nil {
			result.ExpiresAt = t.UTC()
		}
	}
	return result, nil
}

func pickAddress(addresses map[string]string, asset, chain string) string {
	for _, k := range []string{strings.ToLower(asset), strings.ToLower(chain)} {
		if k == "" {
			continue
		}
		if a, ok := addresses[k]; ok {
			return a
		}
	}
	return ""
}

// CoinbaseScheme verifies X-CC-Webhook-Signature, the hex HMAC-SHA256 of
// the raw body.
type CoinbaseScheme struct {
	Secret []byte
}

func (s *CoinbaseScheme) SignatureHeader() string { return CoinbaseSignatureHeader }

func (s *CoinbaseScheme) Verify(body []byte, signature string, now time.Time) (*VerifiedEvent, error) {
	if !equalHexMAC(hmacSHA256(s.Secret, body), signature) {
		return nil, ErrInvalidSignature
	}

	var payload struct {
		Event struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Data struct {
				ID   string `json:"id"`
				Code string `json:"code"`
			} `json:"data"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := payload.Event
	if ev.Type == "" || ev.Data.ID == "" {
		return nil, fmt.Errorf("%w: event type and charge id are required", ErrMalformedEvent)
	}
	return &VerifiedEvent{
		Provider:       models.ProviderCoinbase,
		IdempotencyKey: "coinbase:" + ev.Data.ID + ":" + ev.Type,
		Reference:      ev.Data.ID,
		EventType:      ev.Type,
		Status:         coinbaseStatus(ev.Type),
		ReceivedAt:     now,
	}, nil
}

func coinbaseStatus(eventType string) EventStatus {
	switch eventType {
	case "charge:confirmed", "charge:resolved":
		return EventSettled
	case "charge:failed":
		return EventFailed
	}
	return EventPending
}

func SignCoinbase(secret, body []byte) string {
	return hex.EncodeToString(hmacSHA256(secret, body))
}
