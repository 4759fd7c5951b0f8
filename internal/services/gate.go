package services

import (
	"context"
	"errors"
	"time"

	"L402Paywall/internal/catalog"
	"L402Paywall/internal/models"
	"L402Paywall/internal/store"
)

type Challenge struct {
	Offers              []models.Offer `json:"offers"`
	PaymentContextToken string         `json:"payment_context_token"`
	PaymentRequestURL   string         `json:"payment_request_url"`
	Expiry              time.Time      `json:"expiry"`
}

type Decision struct {
	Allowed   bool
	Remaining int64
	Challenge *Challenge
}

// Gate releases protected resources against a credit balance. Access is
// granted only through the store's conditional debit.
type Gate struct {
	Store             store.Store
	Catalog           *catalog.Catalog
	Tokens            *ContextTokens
	PaymentRequestURL string
	ChallengeTTL      time.Duration
	Now               func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Gate) TryConsume(ctx context.Context, userID string, cost int64) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrUnknownUser
	}
	if cost <= 0 {
		return Decision{}, ErrInvalidInput
	}

	left, err := g.Store.DebitCredits(ctx, userID, cost)
	switch {
	case err == nil:
		return Decision{Allowed: true, Remaining: left}, nil
	case errors.Is(err, store.ErrNotFound):
		return Decision{}, ErrUnknownUser
	case errors.Is(err, store.ErrInsufficientCredits):
		ch, err := g.buildChallenge(userID)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, Remaining: left, Challenge: ch}, nil
	default:
		return Decision{}, storageErr("debit credits", err)
	}
}

// Challenge returns the purchase options for a known user without touching
// the balance.
func (g *Gate) Challenge(ctx context.Context, userID string) (*Challenge, error) {
	if _, err := g.Store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, storageErr("get user", err)
	}
	return g.buildChallenge(userID)
}

// Refund returns credits taken by TryConsume when the protected resource
// could not be served.
func (g *Gate) Refund(ctx context.Context, userID string, cost int64) error {
	if _, err := g.Store.CreditCredits(ctx, userID, cost, g.now()); err != nil {
		return storageErr("refund credits", err)
	}
	return nil
}

func (g *Gate) buildChallenge(userID string) (*Challenge, error) {
	expiry := g.now().Add(g.ChallengeTTL)
	token, err := g.Tokens.Issue(userID, expiry)
	if err != nil {
		return nil, err
	}
	return &Challenge{
		Offers:              g.Catalog.List(),
		PaymentContextToken: token,
		PaymentRequestURL:   g.PaymentRequestURL,
		Expiry:              expiry,
	}, nil
}
