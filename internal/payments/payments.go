package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"L402Paywall/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

type EventStatus string

const (
	EventSettled EventStatus = "settled"
	EventPending EventStatus = "pending"
	EventFailed  EventStatus = "failed"
)

// VerifiedEvent is a provider notification whose origin has been
// authenticated. IdempotencyKey is stable across redeliveries of the same
// event.
type VerifiedEvent struct {
	Provider       models.Provider
	IdempotencyKey string
	Reference      string
	EventType      string
	Status         EventStatus
	ReceivedAt     time.Time
}

func (e *VerifiedEvent) Settled() bool {
	return e.Status == EventSettled
}

type PaymentRequest struct {
	IntentToken string
	OfferID     string
	Credits     int64
	Amount      decimal.Decimal
	Currency    string
	Description string
	Chain       string
	Asset       string
	TTL         time.Duration
}

// PaymentResult carries what the client needs to pay. ExpiresAt is zero
// when the provider does not report one.
type PaymentResult struct {
	Reference   string
	Invoice     string
	CheckoutURL string
	Address     string
	Asset       string
	Chain       string
	ExpiresAt   time.Time
}

type Provider interface {
	Name() models.Provider
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	WebhookScheme() WebhookScheme
}

type WebhookScheme interface {
	SignatureHeader() string
	Verify(body []byte, signature string, now time.Time) (*VerifiedEvent, error)
}

type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("provider http status %d", e.Status)
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
