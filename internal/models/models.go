package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentFailed    IntentStatus = "failed"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentConfirmed || s == IntentExpired || s == IntentFailed
}

type Provider string

const (
	ProviderLightning Provider = "lightning"
	ProviderCoinbase  Provider = "coinbase"
)

// ParseProvider accepts the wire names clients send as payment_method.
func ParseProvider(v string) (Provider, bool) {
	switch v {
	case "lightning":
		return ProviderLightning, true
	case "coinbase", "commerce":
		return ProviderCoinbase, true
	}
	return "", false
}

type User struct {
	ID                 string    `json:"id"`
	Credits            int64     `json:"credits"`
	CreatedAt          time.Time `json:"created_at"`
	LastCreditUpdateAt time.Time `json:"last_credit_update_at"`
}

type Offer struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Credits     int64           `json:"credits" yaml:"credits"`
	Amount      decimal.Decimal `json:"amount" yaml:"amount"`
	Currency    string          `json:"currency" yaml:"currency"`
}

type PaymentIntent struct {
	Token         string          `json:"token"`
	OfferID       string          `json:"offer_id"`
	UserID        string          `json:"-"`
	Provider      Provider        `json:"provider"`
	Reference     string          `json:"reference,omitempty"`
	Status        IntentStatus    `json:"status"`
	Credits       int64           `json:"credits"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p *PaymentIntent) ExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type ProcessedWebhook struct {
	Key        string    `json:"key"`
	Provider   Provider  `json:"provider"`
	Reference  string    `json:"reference"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}

type ReviewKind string

const (
	ReviewNoMatchingIntent ReviewKind = "no_matching_intent"
	ReviewExpiredIntent    ReviewKind = "expired_intent"
	ReviewIntentNotPending ReviewKind = "intent_not_pending"
	ReviewCreditFailed     ReviewKind = "credit_failed"
	ReviewLookupFailed     ReviewKind = "lookup_failed"
	ReviewConfirmFailed    ReviewKind = "confirm_failed"
)

type ReviewFlag struct {
	Kind        ReviewKind `json:"kind"`
	Provider    Provider   `json:"provider"`
	Reference   string     `json:"reference"`
	IntentToken string     `json:"intent_token,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
