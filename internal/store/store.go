package store

import (
	"context"
	"errors"
	"time"

	"L402Paywall/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("already exists")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Transition describes a conditional intent status change. It is applied
// only when the stored status equals From, and, with Unexpired set, only
// while the stored expiry is still after At. Reference, ExpiresAt and Failure
// are written alongside the status when non-zero.
type Transition struct {
	Token     string
	From      models.IntentStatus
	To        models.IntentStatus
	At        time.Time
	Unexpired bool
	Reference string
	ExpiresAt time.Time
	Failure   string
}

// Store is the persistence boundary. Every balance and intent mutation is
// one of its atomic primitives: conditional debit, credit increment,
// conditional transition and set-if-absent.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// DebitCredits removes cost credits only if the balance covers it. On
	// ErrInsufficientCredits the returned value is the untouched balance.
	DebitCredits(ctx context.Context, userID string, cost int64) (int64, error)
	CreditCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error)

	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetIntent(ctx context.Context, token string) (*models.PaymentIntent, error)
	GetIntentByReference(ctx context.Context, provider models.Provider, reference string) (*models.PaymentIntent, error)
	// TransitionIntent returns the intent as stored after the attempt and
	// whether this call applied the change.
	TransitionIntent(ctx context.Context, tr Transition) (*models.PaymentIntent, bool, error)
	ExpirePending(ctx context.Context, now time.Time, limit int) (int64, error)

	// MarkProcessed records a webhook natural key. It reports false when the
	// key was already present.
	MarkProcessed(ctx context.Context, rec *models.ProcessedWebhook) (bool, error)

	FlagForReview(ctx context.Context, flag *models.ReviewFlag) error
	ListReviewFlags(ctx context.Context, limit int) ([]models.ReviewFlag, error)
}
