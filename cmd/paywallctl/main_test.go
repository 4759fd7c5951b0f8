package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"L402Paywall/internal/config"
	"L402Paywall/internal/models"
	"L402Paywall/internal/store"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCLI(t *testing.T) (*store.RedisStore, func(args ...string) (string, error)) {
	t.Helper()
	chdirForTest(t, t.TempDir())
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStore(client, "cli", 0)

	run := func(args ...string) (string, error) {
		env := &cliEnv{open: func(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
			return st, func() {}, nil
		}}
		cmd := newRootCmd(env)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}
	return st, run
}

func TestSignupAndBalance(t *testing.T) {
	_, run := newTestCLI(t)

	out, err := run("signup", "--credits", "7")
	require.NoError(t, err)
	var user models.User
	require.NoError(t, json.Unmarshal([]byte(out), &user))
	assert.Equal(t, int64(7), user.Credits)

	out, err = run("balance", user.ID)
	require.NoError(t, err)
	var got models.User
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, int64(7), got.Credits)

	_, err = run("balance", "ghost")
	assert.Error(t, err)

	_, err = run("balance")
	assert.Error(t, err)
}

func TestIntentAndSweep(t *testing.T) {
	st, run := newTestCLI(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.CreateIntent(ctx, &models.PaymentIntent{
		Token:     "tok1",
		OfferID:   "offer1",
		UserID:    "u1",
		Provider:  models.ProviderLightning,
		Status:    models.IntentCreated,
		Credits:   1,
		Amount:    decimal.RequireFromString("0.01"),
		Currency:  "USD",
		CreatedAt: past,
		ExpiresAt: past.Add(time.Minute),
		UpdatedAt: past,
	}))
	_, applied, err := st.TransitionIntent(ctx, store.Transition{
		Token: "tok1", From: models.IntentCreated, To: models.IntentPending,
		At: past, Reference: "ab", ExpiresAt: past.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, applied)

	out, err := run("sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 1 intents")

	out, err = run("intent", "tok1")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "u1", view["user_id"])
	assert.Equal(t, "expired", view["status"])
	assert.Equal(t, "tok1", view["token"])

	_, err = run("intent", "missing")
	assert.Error(t, err)
}

func TestReview(t *testing.T) {
	st, run := newTestCLI(t)

	out, err := run("review")
	require.NoError(t, err)
	assert.Contains(t, out, "no flagged events")

	require.NoError(t, st.FlagForReview(context.Background(), &models.ReviewFlag{
		Kind:      models.ReviewNoMatchingIntent,
		Provider:  models.ProviderCoinbase,
		Reference: "charge-9",
		CreatedAt: time.Now().UTC(),
	}))
	out, err = run("review", "-n", "5")
	require.NoError(t, err)
	var flags []models.ReviewFlag
	require.NoError(t, json.Unmarshal([]byte(out), &flags))
	require.Len(t, flags, 1)
	assert.Equal(t, "charge-9", flags[0].Reference)
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
