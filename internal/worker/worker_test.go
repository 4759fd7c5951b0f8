package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.RedisStore {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "worker", 0)
}

func seedPending(t *testing.T, s store.Store, token, hash string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateIntent(ctx, &models.PaymentIntent{
		Token:     token,
		OfferID:   "offer1",
		UserID:    "u1",
		Provider:  models.ProviderLightning,
		Status:    models.IntentCreated,
		Credits:   1,
		Amount:    decimal.RequireFromString("0.01"),
		Currency:  "USD",
		CreatedAt: testNow.Add(-time.Hour),
		ExpiresAt: expiresAt,
		UpdatedAt: testNow.Add(-time.Hour),
	}))
	_, applied, err := s.TransitionIntent(ctx, store.Transition{
		Token:     token,
		From:      models.IntentCreated,
		To:        models.IntentPending,
		At:        testNow.Add(-time.Hour),
		Reference: hash,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func statusOf(t *testing.T, s store.Store, token string) models.IntentStatus {
	t.Helper()
	intent, err := s.GetIntent(context.Background(), token)
	require.NoError(t, err)
	return intent.Status
}

func TestSweepOnceExpiresInBatches(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		seedPending(t, s, "old-"+strconv.Itoa(i), "aa0"+strconv.Itoa(i), testNow.Add(-time.Minute))
	}
	seedPending(t, s, "live", "bb01", testNow.Add(time.Minute))

	w := &Worker{Store: s, SweepBatch: 2, Now: func() time.Time { return testNow }}
	n, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	for i := 0; i < 5; i++ {
		assert.Equal(t, models.IntentExpired, statusOf(t, s, "old-"+strconv.Itoa(i)))
	}
	assert.Equal(t, models.IntentPending, statusOf(t, s, "live"))

	n, err = w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRunStreamCreditsSettledPayments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &models.User{ID: "u1", CreatedAt: testNow, LastCreditUpdateAt: testNow}))
	seedPending(t, s, "tok1", "ab12", time.Now().Add(time.Hour))

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"wallet_balance": 1000}`,
			`{"payment":{"payment_hash":"AB12","pending":true,"status":"pending"}}`,
			`{"payment":{"payment_hash":"AB12","pending":false,"status":"success"}}`,
			`"ab12"`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := &Worker{
		Store:          s,
		Reconciler:     &services.Reconciler{Store: s, Retry: services.Retry{Attempts: 1}},
		StreamEndpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
	}
	done := make(chan struct{})
	go func() {
		w.RunStream(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		u, err := s.GetUser(ctx, "u1")
		return err == nil && u.Credits == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.IntentConfirmed, statusOf(t, s, "tok1"))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream listener did not stop")
	}

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Credits)
}

func TestRunStreamDisabledWithoutEndpoint(t *testing.T) {
	w := &Worker{}
	done := make(chan struct{})
	go func() {
		w.RunStream(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunStream should return immediately without an endpoint")
	}
}
