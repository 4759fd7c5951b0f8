package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"L402Paywall/internal/catalog"
	"L402Paywall/internal/models"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/store"

	"github.com/google/uuid"
)

type PaymentInput struct {
	OfferID      string
	Method       string
	ContextToken string
	Chain        string
	Asset        string
}

type PaymentDescriptor struct {
	LightningInvoice string    `json:"lightning_invoice,omitempty"`
	CheckoutURL      string    `json:"checkout_url,omitempty"`
	Address          string    `json:"address,omitempty"`
	Asset            string    `json:"asset,omitempty"`
	Chain            string    `json:"chain,omitempty"`
	OfferID          string    `json:"offer_id"`
	IntentToken      string    `json:"intent_token"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type Orchestrator struct {
	Store           store.Store
	Catalog         *catalog.Catalog
	Tokens          *ContextTokens
	Providers       map[models.Provider]payments.Provider
	IntentTTL       time.Duration
	ProviderTimeout time.Duration
	Retry           Retry
	Logger          *slog.Logger
	Now             func() time.Time
}

func ProviderSet(providers ...payments.Provider) map[models.Provider]payments.Provider {
	out := make(map[models.Provider]payments.Provider, len(providers))
	for _, p := range providers {
		out[p.Name()] = p
	}
	return out
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) CreatePayment(ctx context.Context, in PaymentInput) (*PaymentDescriptor, error) {
	if in.OfferID == "" || in.Method == "" {
		return nil, fmt.Errorf("%w: offer_id and payment_method are required", ErrInvalidInput)
	}
	offer, err := o.Catalog.Get(in.OfferID)
	if err != nil {
		return nil, ErrUnknownOffer
	}
	userID, err := o.Tokens.Open(in.ContextToken)
	if err != nil {
		return nil, err
	}
	if _, err := o.Store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, storageErr("get user", err)
	}
	method, ok := models.ParseProvider(strings.ToLower(strings.TrimSpace(in.Method)))
	if !ok {
		return nil, ErrMethodDisabled
	}
	provider, ok := o.Providers[method]
	if !ok {
		return nil, ErrMethodDisabled
	}

	now := o.now()
	intent := &models.PaymentIntent{
		Token:     uuid.NewString(),
		OfferID:   offer.ID,
		UserID:    userID,
		Provider:  method,
		Status:    models.IntentCreated,
		Credits:   offer.Credits,
		Amount:    offer.Amount,
		Currency:  offer.Currency,
		CreatedAt: now,
		ExpiresAt: now.Add(o.IntentTTL),
		UpdatedAt: now,
	}
	if err := o.Store.CreateIntent(ctx, intent); err != nil {
		return nil, storageErr("create intent", err)
	}

	timeout := o.ProviderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := provider.CreatePayment(callCtx, payments.PaymentRequest{
		IntentToken: intent.Token,
		OfferID:     offer.ID,
		Credits:     offer.Credits,
		Amount:      offer.Amount,
		Currency:    offer.Currency,
		Description: fmt.Sprintf("Purchase %d credits for API access - %s", offer.Credits, offer.Title),
		Chain:       in.Chain,
		Asset:       in.Asset,
		TTL:         o.IntentTTL,
	})
	cancel()
	if err != nil {
		o.failIntent(ctx, intent, err)
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = o.now().Add(o.IntentTTL)
	}
	pending, err := withRetry(ctx, o.Retry, func(ctx context.Context) (*models.PaymentIntent, error) {
		got, applied, err := o.Store.TransitionIntent(ctx, store.Transition{
			Token:     intent.Token,
			From:      models.IntentCreated,
			To:        models.IntentPending,
			At:        o.now(),
			Reference: res.Reference,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, fmt.Errorf("intent %s left created state as %s", intent.Token, got.Status)
		}
		return got, nil
	})
	if err != nil {
		return nil, storageErr("activate intent", err)
	}

	o.log().Info("payment intent pending",
		"intent_token", pending.Token,
		"provider", pending.Provider,
		"reference", pending.Reference,
		"offer_id", pending.OfferID,
	)
	return &PaymentDescriptor{
		LightningInvoice: res.Invoice,
		CheckoutURL:      res.CheckoutURL,
		Address:          res.Address,
		Asset:            res.Asset,
		Chain:            res.Chain,
		OfferID:          offer.ID,
		IntentToken:      pending.Token,
		ExpiresAt:        pending.ExpiresAt,
	}, nil
}

func (o *Orchestrator) failIntent(ctx context.Context, intent *models.PaymentIntent, cause error) {
	reason := cause.Error()
	if len(reason) > 500 {
		reason = reason[:500]
	}
	_, err := withRetry(ctx, o.Retry, func(ctx context.Context) (bool, error) {
		_, applied, err := o.Store.TransitionIntent(ctx, store.Transition{
			Token:   intent.Token,
			From:    models.IntentCreated,
			To:      models.IntentFailed,
			At:      o.now(),
			Failure: reason,
		})
		return applied, err
	})
	if err != nil {
		o.log().Error("mark intent failed", "intent_token", intent.Token, "err", err)
	}
	o.log().Warn("payment provider failed",
		"intent_token", intent.Token,
		"provider", intent.Provider,
		"err", cause,
	)
}

// GetIntent returns the stored intent, moving an overdue pending intent to
// expired on the way.
func (o *Orchestrator) GetIntent(ctx context.Context, token string) (*models.PaymentIntent, error) {
	intent, err := o.Store.GetIntent(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, storageErr("get intent", err)
	}
	now := o.now()
	if intent.Status != models.IntentPending || !intent.ExpiredAt(now) {
		return intent, nil
	}
	expired, err := withRetry(ctx, o.Retry, func(ctx context.Context) (*models.PaymentIntent, error) {
		got, _, err := o.Store.TransitionIntent(ctx, store.Transition{
			Token: token,
			From:  models.IntentPending,
			To:    models.IntentExpired,
			At:    now,
		})
		return got, err
	})
	if err != nil {
		return nil, storageErr("expire intent", err)
	}
	return expired, nil
}
