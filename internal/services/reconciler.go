package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/store"
)

type Outcome string

const (
	OutcomeCredited          Outcome = "credited"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeNoMatchingIntent  Outcome = "no_matching_intent"
	OutcomeNotConfirmedEvent Outcome = "not_confirmed_event"
	OutcomeExpiredIntent     Outcome = "expired_intent"
	OutcomeIntentNotPending  Outcome = "intent_not_pending"
)

type Result struct {
	Outcome      Outcome `json:"outcome"`
	IntentToken  string  `json:"intent_token,omitempty"`
	CreditsAdded int64   `json:"credits_added,omitempty"`
}

// Reconciler turns verified provider events into balance increments. The
// processed-key write happens before the intent transition, which happens
// before the increment, so a redelivered or racing event can never credit
// twice.
type Reconciler struct {
	Store  store.Store
	Retry  Retry
	Logger *slog.Logger
	Now    func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reconciler) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Reconciler) Reconcile(ctx context.Context, ev *payments.VerifiedEvent) (Result, error) {
	log := r.log().With("provider", ev.Provider, "reference", ev.Reference, "event_type", ev.EventType)

	fresh, err := withRetry(ctx, r.Retry, func(ctx context.Context) (bool, error) {
		return r.Store.MarkProcessed(ctx, &models.ProcessedWebhook{
			Key:        ev.IdempotencyKey,
			Provider:   ev.Provider,
			Reference:  ev.Reference,
			EventType:  ev.EventType,
			ReceivedAt: ev.ReceivedAt,
		})
	})
	if err != nil {
		return Result{}, storageErr("mark processed", err)
	}
	if !fresh {
		log.Info("webhook already processed", "key", ev.IdempotencyKey)
		return Result{Outcome: OutcomeAlreadyProcessed}, nil
	}

	intent, err := withRetry(ctx, r.Retry, func(ctx context.Context) (*models.PaymentIntent, error) {
		return r.Store.GetIntentByReference(ctx, ev.Provider, ev.Reference)
	})
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("webhook has no matching intent")
		r.flag(ctx, models.ReviewNoMatchingIntent, ev, "", "no intent for provider reference")
		return Result{Outcome: OutcomeNoMatchingIntent}, nil
	}
	if err != nil {
		// The key is already spent, so a redelivery will not retry this.
		log.Error("lookup intent failed", "err", err)
		r.flag(ctx, models.ReviewLookupFailed, ev, "", err.Error())
		return Result{}, storageErr("lookup intent", err)
	}
	log = log.With("intent_token", intent.Token)

	if !ev.Settled() {
		log.Info("webhook does not confirm payment", "status", ev.Status)
		return Result{Outcome: OutcomeNotConfirmedEvent, IntentToken: intent.Token}, nil
	}

	now := r.now()
	confirmed, applied, err := r.transition(ctx, store.Transition{
		Token:     intent.Token,
		From:      models.IntentPending,
		To:        models.IntentConfirmed,
		At:        now,
		Unexpired: true,
	})
	if err != nil {
		log.Error("confirm intent failed", "err", err)
		r.flag(ctx, models.ReviewConfirmFailed, ev, intent.Token, err.Error())
		return Result{}, storageErr("confirm intent", err)
	}
	if !applied {
		return r.rejectConfirmation(ctx, log, ev, confirmed, now)
	}

	balance, err := r.Store.CreditCredits(ctx, confirmed.UserID, confirmed.Credits, now)
	if err != nil {
		log.Error("credit after confirmation failed", "credits", confirmed.Credits, "err", err)
		r.flag(ctx, models.ReviewCreditFailed, ev, confirmed.Token, err.Error())
		return Result{}, storageErr("credit balance", err)
	}
	log.Info("payment credited", "credits", confirmed.Credits, "balance", balance)
	return Result{Outcome: OutcomeCredited, IntentToken: confirmed.Token, CreditsAdded: confirmed.Credits}, nil
}

func (r *Reconciler) rejectConfirmation(ctx context.Context, log *slog.Logger, ev *payments.VerifiedEvent, current *models.PaymentIntent, now time.Time) (Result, error) {
	if current.Status == models.IntentPending && current.ExpiredAt(now) {
		if _, _, err := r.transition(ctx, store.Transition{
			Token: current.Token,
			From:  models.IntentPending,
			To:    models.IntentExpired,
			At:    now,
		}); err != nil {
			log.Error("expire intent failed", "err", err)
		}
		log.Warn("payment arrived after intent expiry", "expires_at", current.ExpiresAt)
		r.flag(ctx, models.ReviewExpiredIntent, ev, current.Token, "payment confirmed after "+current.ExpiresAt.Format(time.RFC3339))
		return Result{Outcome: OutcomeExpiredIntent, IntentToken: current.Token}, nil
	}
	if current.Status == models.IntentExpired {
		log.Warn("payment arrived for expired intent")
		r.flag(ctx, models.ReviewExpiredIntent, ev, current.Token, "intent already expired")
		return Result{Outcome: OutcomeExpiredIntent, IntentToken: current.Token}, nil
	}
	log.Warn("intent not pending at confirmation", "status", current.Status)
	r.flag(ctx, models.ReviewIntentNotPending, ev, current.Token, "intent status "+string(current.Status))
	return Result{Outcome: OutcomeIntentNotPending, IntentToken: current.Token}, nil
}

func (r *Reconciler) transition(ctx context.Context, tr store.Transition) (*models.PaymentIntent, bool, error) {
	type attempt struct {
		intent  *models.PaymentIntent
		applied bool
	}
	res, err := withRetry(ctx, r.Retry, func(ctx context.Context) (attempt, error) {
		intent, applied, err := r.Store.TransitionIntent(ctx, tr)
		return attempt{intent, applied}, err
	})
	return res.intent, res.applied, err
}

func (r *Reconciler) flag(ctx context.Context, kind models.ReviewKind, ev *payments.VerifiedEvent, token, detail string) {
	err := r.Store.FlagForReview(ctx, &models.ReviewFlag{
		Kind:        kind,
		Provider:    ev.Provider,
		Reference:   ev.Reference,
		IntentToken: token,
		Detail:      detail,
		CreatedAt:   r.now(),
	})
	if err != nil {
		r.log().Error("write review flag failed", "kind", kind, "reference", ev.Reference, "err", err)
	}
}
