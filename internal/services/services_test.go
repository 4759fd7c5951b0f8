package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"L402Paywall/internal/catalog"
	"L402Paywall/internal/models"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/store"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var fastRetry = Retry{Attempts: 3, Base: time.Millisecond}

func newTestStore(t *testing.T) *store.RedisStore {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "svc", 0)
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]models.Offer{
		{ID: "offer1", Title: "1 Credit Package", Credits: 1, Amount: decimal.RequireFromString("0.01"), Currency: "USD"},
		{ID: "offer2", Title: "5 Credits Package", Credits: 5, Amount: decimal.RequireFromString("0.05"), Currency: "USD"},
	})
	require.NoError(t, err)
	return c
}

func newTestTokens() *ContextTokens {
	tokens := NewContextTokens("test-context-secret")
	tokens.Now = fixedClock
	return tokens
}

func seedUser(t *testing.T, s store.Store, id string, credits int64) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID:                 id,
		Credits:            credits,
		CreatedAt:          testNow,
		LastCreditUpdateAt: testNow,
	}))
}

func balanceOf(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Credits
}

// seedPendingIntent stores a pending intent for userID bound to reference.
func seedPendingIntent(t *testing.T, s store.Store, userID, token string, provider models.Provider, reference string, credits int64, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateIntent(ctx, &models.PaymentIntent{
		Token:     token,
		OfferID:   "offer2",
		UserID:    userID,
		Provider:  provider,
		Status:    models.IntentCreated,
		Credits:   credits,
		Amount:    decimal.RequireFromString("0.05"),
		Currency:  "USD",
		CreatedAt: testNow,
		ExpiresAt: expiresAt,
		UpdatedAt: testNow,
	}))
	_, applied, err := s.TransitionIntent(ctx, store.Transition{
		Token:     token,
		From:      models.IntentCreated,
		To:        models.IntentPending,
		At:        testNow,
		Reference: reference,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

type fakeProvider struct {
	name   models.Provider
	result payments.PaymentResult
	err    error

	mu    sync.Mutex
	calls int
	last  payments.PaymentRequest
}

func (p *fakeProvider) Name() models.Provider { return p.name }

func (p *fakeProvider) WebhookScheme() payments.WebhookScheme { return nil }

func (p *fakeProvider) CreatePayment(ctx context.Context, req payments.PaymentRequest) (*payments.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	res := p.result
	return &res, nil
}

func (p *fakeProvider) lastRequest() payments.PaymentRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// flakyStore fails the first N calls to MarkProcessed, GetIntentByReference
// and TransitionIntent with a transient error, and every CreditCredits call
// when failCredit is set.
type flakyStore struct {
	store.Store
	markFailures       atomic.Int32
	markCalls          atomic.Int32
	lookupFailures     atomic.Int32
	lookupCalls        atomic.Int32
	transitionFailures atomic.Int32
	failCredit         bool
	creditCalls        atomic.Int32
}

var errTransient = errors.New("connection reset")

func (f *flakyStore) MarkProcessed(ctx context.Context, rec *models.ProcessedWebhook) (bool, error) {
	f.markCalls.Add(1)
	if f.markFailures.Add(-1) >= 0 {
		return false, errTransient
	}
	return f.Store.MarkProcessed(ctx, rec)
}

func (f *flakyStore) GetIntentByReference(ctx context.Context, provider models.Provider, reference string) (*models.PaymentIntent, error) {
	f.lookupCalls.Add(1)
	if f.lookupFailures.Add(-1) >= 0 {
		return nil, errTransient
	}
	return f.Store.GetIntentByReference(ctx, provider, reference)
}

func (f *flakyStore) TransitionIntent(ctx context.Context, tr store.Transition) (*models.PaymentIntent, bool, error) {
	if f.transitionFailures.Add(-1) >= 0 {
		return nil, false, errTransient
	}
	return f.Store.TransitionIntent(ctx, tr)
}

func (f *flakyStore) CreditCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	f.creditCalls.Add(1)
	if f.failCredit {
		return 0, errTransient
	}
	return f.Store.CreditCredits(ctx, userID, amount, at)
}
