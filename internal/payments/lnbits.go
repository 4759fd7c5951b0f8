package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/pricing"
)

const LightningSignatureHeader = "X-Lightning-Signature"

type LNbitsConfig struct {
	BaseURL       string
	AdminKey      string
	WebhookSecret string
	WebhookURL    string
	Network       string
	Tolerance     time.Duration
	Pricing       pricing.Service
	HTTPClient    *http.Client
}

type LNbitsProvider struct {
	baseURL  string
	adminKey string
	webhook  string
	network  string
	pricing  pricing.Service
	client   *http.Client
	scheme   *LightningScheme
}

func NewLNbitsProvider(cfg LNbitsConfig) (*LNbitsProvider, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("lnbits base url %q is invalid", cfg.BaseURL)
	}
	if cfg.AdminKey == "" {
		return nil, errors.New("lnbits admin key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("lightning webhook secret is required")
	}
	return &LNbitsProvider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		adminKey: cfg.AdminKey,
		webhook:  cfg.WebhookURL,
		network:  cfg.Network,
		pricing:  cfg.Pricing,
		client:   defaultHTTPClient(cfg.HTTPClient),
		scheme:   &LightningScheme{Secret: []byte(cfg.WebhookSecret), Tolerance: cfg.Tolerance},
	}, nil
}

func (p *LNbitsProvider) Name() models.Provider { return models.ProviderLightning }

func (p *LNbitsProvider) WebhookScheme() WebhookScheme { return p.scheme }

type lnbitsInvoiceRequest struct {
	Out     bool              `json:"out"`
	Amount  int64             `json:"amount"`
	Unit    string            `json:"unit"`
	Memo    string            `json:"memo"`
	Expiry  int64             `json:"expiry,omitempty"`
	Webhook string            `json:"webhook,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

type lnbitsInvoiceResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

func (p *LNbitsProvider) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	quote, err := p.pricing.QuoteSats(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	body := lnbitsInvoiceRequest{
		Out:     false,
		Amount:  quote.Sats,
		Unit:    "sat",
		Memo:    req.Description,
		Expiry:  int64(req.TTL / time.Second),
		Webhook: p.webhook,
		Extra:   map[string]string{"intent_token": req.IntentToken, "offer_id": req.OfferID},
	}
	var resp lnbitsInvoiceResponse
	err = postJSON(ctx, p.client, p.baseURL+"/api/v1/payments", map[string]string{"X-Api-Key": p.adminKey}, body, &resp)
	if err != nil {
		return nil, fmt.Errorf("lnbits create invoice: %w", err)
	}

	invoice := resp.Bolt11
	if invoice == "" {
		invoice = resp.PaymentRequest
	}
	if resp.PaymentHash == "" || invoice == "" {
		return nil, errors.New("lnbits create invoice: response missing payment hash or invoice")
	}
	if err := ValidateInvoice(invoice, p.network); err != nil {
		return nil, err
	}
	return &PaymentResult{Reference: strings.ToLower(resp.PaymentHash), Invoice: invoice}, nil
}

// LightningScheme authenticates relayed LNbits payment notifications. The
// header is "t=<unix>,v1=<hex hmac>" where the MAC covers "<t>.<body>".
type LightningScheme struct {
	Secret    []byte
	Tolerance time.Duration
}

func (s *LightningScheme) SignatureHeader() string { return LightningSignatureHeader }

func (s *LightningScheme) Verify(body []byte, signature string, now time.Time) (*VerifiedEvent, error) {
	ts, macs, err := parseTimestampedSignature(signature)
	if err != nil {
		return nil, err
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := hmacSHA256(s.Secret, []byte(strconv.FormatInt(ts, 10)), []byte("."), body)
	matched := false
	for _, m := range macs {
		if equalHexMAC(expected, m) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	var payload lnbitsPayment
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return payload.event(now)
}

// SignLightning produces the X-Lightning-Signature value for body.
func SignLightning(secret []byte, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(hmacSHA256(secret, []byte(ts), []byte("."), body))
}

func parseTimestampedSignature(v string) (int64, []string, error) {
	var ts int64
	var macs []string
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = n
		case "v1":
			macs = append(macs, val)
		}
	}
	if ts == 0 || len(macs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return ts, macs, nil
}

// lnbitsPayment accepts both the legacy {payment_hash, payment_status} body
// and the payment object LNbits posts to invoice webhooks.
type lnbitsPayment struct {
	PaymentHash   string `json:"payment_hash"`
	PaymentStatus *bool  `json:"payment_status"`
	Paid          *bool  `json:"paid"`
	Pending       *bool  `json:"pending"`
	Status        string `json:"status"`
}

func (p lnbitsPayment) status() EventStatus {
	switch {
	case p.PaymentStatus != nil:
		if *p.PaymentStatus {
			return EventSettled
		}
		return EventPending
	case p.Paid != nil && *p.Paid:
		return EventSettled
	}
	switch strings.ToLower(p.Status) {
	case "success", "paid", "settled", "complete":
		return EventSettled
	case "failed", "expired", "cancelled":
		return EventFailed
	}
	if p.Pending != nil && !*p.Pending && p.Status == "" {
		return EventSettled
	}
	return EventPending
}

func (p lnbitsPayment) event(now time.Time) (*VerifiedEvent, error) {
	hash := strings.ToLower(strings.TrimSpace(p.PaymentHash))
	if hash == "" {
		return nil, fmt.Errorf("%w: payment_hash is required", ErrMalformedEvent)
	}
	return lightningEvent(hash, p.status(), now), nil
}

func lightningEvent(hash string, status EventStatus, now time.Time) *VerifiedEvent {
	return &VerifiedEvent{
		Provider:       models.ProviderLightning,
		IdempotencyKey: "lightning:" + hash + ":" + string(status),
		Reference:      hash,
		EventType:      "payment." + string(status),
		Status:         status,
		ReceivedAt:     now,
	}
}
