package payments

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/pricing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testInvoice(t *testing.T, hrp string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(hrp))
	data, err := bech32.ConvertBits(append(sum[:], sum[:]...), 8, 5, true)
	require.NoError(t, err)
	inv, err := bech32.Encode(hrp, data)
	require.NoError(t, err)
	return inv
}

func TestValidateInvoice(t *testing.T) {
	mainnet := testInvoice(t, "lnbc100n")
	require.NoError(t, ValidateInvoice(mainnet, "bc"))
	require.NoError(t, ValidateInvoice("lightning:"+strings.ToUpper(mainnet), "bc"))
	require.NoError(t, ValidateInvoice(testInvoice(t, "lnbc"), ""))

	assert.ErrorIs(t, ValidateInvoice(mainnet, "tb"), ErrInvalidInvoice)
	assert.ErrorIs(t, ValidateInvoice(testInvoice(t, "lnbcrt5u"), "bc"), ErrInvalidInvoice)
	require.NoError(t, ValidateInvoice(testInvoice(t, "lnbcrt5u"), "bcrt"))

	broken := mainnet[:len(mainnet)-1] + "q"
	if broken == mainnet {
		broken = mainnet[:len(mainnet)-1] + "p"
	}
	assert.ErrorIs(t, ValidateInvoice(broken, "bc"), ErrInvalidInvoice)
	assert.ErrorIs(t, ValidateInvoice("not-an-invoice", "bc"), ErrInvalidInvoice)
}

func TestCoinbaseSchemeVerify(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"id":"delivery","event":{"id":"evt1","type":"charge:confirmed","data":{"id":"charge-1","code":"ABC"}}}`)
	v := &Verifier{schemes: map[models.Provider]WebhookScheme{}, Now: func() time.Time { return testNow }}
	v.Register(models.ProviderCoinbase, &CoinbaseScheme{Secret: secret})

	h := http.Header{}
	h.Set(CoinbaseSignatureHeader, SignCoinbase(secret, body))
	ev, err := v.Verify(body, h, models.ProviderCoinbase)
	require.NoError(t, err)
	assert.Equal(t, "coinbase:charge-1:charge:confirmed", ev.IdempotencyKey)
	assert.Equal(t, "charge-1", ev.Reference)
	assert.True(t, ev.Settled())
	assert.Equal(t, testNow, ev.ReceivedAt)

	h.Set(CoinbaseSignatureHeader, SignCoinbase([]byte("other"), body))
	_, err = v.Verify(body, h, models.ProviderCoinbase)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	h.Set(CoinbaseSignatureHeader, "zz-not-hex")
	_, err = v.Verify(body, h, models.ProviderCoinbase)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = v.Verify(body, http.Header{}, models.ProviderCoinbase)
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = v.Verify(body, h, models.ProviderLightning)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCoinbaseSchemeEventStatuses(t *testing.T) {
	s := &CoinbaseScheme{Secret: []byte("k")}
	cases := map[string]EventStatus{
		"charge:created":   EventPending,
		"charge:pending":   EventPending,
		"charge:confirmed": EventSettled,
		"charge:resolved":  EventSettled,
		"charge:failed":    EventFailed,
	}
	for typ, want := range cases {
		body := []byte(`{"event":{"type":"` + typ + `","data":{"id":"c1"}}}`)
		ev, err := s.Verify(body, SignCoinbase(s.Secret, body), testNow)
		require.NoError(t, err, typ)
		assert.Equal(t, want, ev.Status, typ)
	}

	body := []byte(`{"event":{"type":"charge:confirmed","data":{}}}`)
	_, err := s.Verify(body, SignCoinbase(s.Secret, body), testNow)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestLightningSchemeVerify(t *testing.T) {
	s := &LightningScheme{Secret: []byte("lnsecret"), Tolerance: time.Minute}
	body := []byte(`{"payment_hash":"ABCD01","payment_status":true}`)

	ev, err := s.Verify(body, SignLightning(s.Secret, testNow, body), testNow.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "abcd01", ev.Reference)
	assert.Equal(t, "lightning:abcd01:settled", ev.IdempotencyKey)
	assert.True(t, ev.Settled())

	_, err = s.Verify(body, SignLightning(s.Secret, testNow, body), testNow.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidSignature, "stale timestamp")

	_, err = s.Verify(body, SignLightning([]byte("wrong"), testNow, body), testNow)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = s.Verify(body, "v1=deadbeef", testNow)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := []byte(`{"payment_hash":"ABCD02","payment_status":true}`)
	_, err = s.Verify(tampered, SignLightning(s.Secret, testNow, body), testNow)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	bad := []byte(`{"payment_status":true}`)
	_, err = s.Verify(bad, SignLightning(s.Secret, testNow, bad), testNow)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestLightningPaymentStatus(t *testing.T) {
	tr, fa := true, false
	cases := []struct {
		p    lnbitsPayment
		want EventStatus
	}{
		{lnbitsPayment{PaymentStatus: &tr}, EventSettled},
		{lnbitsPayment{PaymentStatus: &fa}, EventPending},
		{lnbitsPayment{Paid: &tr}, EventSettled},
		{lnbitsPayment{Status: "success"}, EventSettled},
		{lnbitsPayment{Status: "failed"}, EventFailed},
		{lnbitsPayment{Status: "pending", Pending: &tr}, EventPending},
		{lnbitsPayment{Pending: &fa}, EventSettled},
		{lnbitsPayment{}, EventPending},
	}
	for i, c := range cases {
		assert.Equal(t, c.want, c.p.status(), "case %d", i)
	}
}

func TestLNbitsCreatePayment(t *testing.T) {
	invoice := testInvoice(t, "lnbc200u")
	var got lnbitsInvoiceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments", r.URL.Path)
		assert.Equal(t, "admin", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"payment_hash": "FEED", "payment_request": invoice})
	}))
	defer srv.Close()

	p, err := NewLNbitsProvider(LNbitsConfig{
		BaseURL:       srv.URL + "/",
		AdminKey:      "admin",
		WebhookSecret: "s",
		WebhookURL:    "https://relay.example.com/lnbits",
		Network:       "bc",
		Pricing:       pricing.Service{SatsPerUnit: decimal.NewFromInt(2_000_000)},
	})
	require.NoError(t, err)

	res, err := p.CreatePayment(context.Background(), PaymentRequest{
		IntentToken: "tok",
		OfferID:     "offer2",
		Amount:      decimal.RequireFromString("0.05"),
		Currency:    "USD",
		Description: "Purchase 5 credits for API access - 5 Credits Package",
		TTL:         30 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "feed", res.Reference)
	assert.Equal(t, invoice, res.Invoice)

	assert.False(t, got.Out)
	assert.Equal(t, int64(100_000), got.Amount)
	assert.Equal(t, int64(1800), got.Expiry)
	assert.Equal(t, "tok", got.Extra["intent_token"])
	assert.Equal(t, "https://relay.example.com/lnbits", got.Webhook)
}

func TestLNbitsCreatePaymentErrors(t *testing.T) {
	status := http.StatusInternalServerError
	body := `{"detail":"boom"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	p, err := NewLNbitsProvider(LNbitsConfig{BaseURL: srv.URL, AdminKey: "a", WebhookSecret: "s", Network: "bc",
		Pricing: pricing.Service{SatsPerUnit: decimal.NewFromInt(2_000_000)}})
	require.NoError(t, err)
	req := PaymentRequest{Amount: decimal.RequireFromString("0.01"), Currency: "USD"}

	_, err = p.CreatePayment(context.Background(), req)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)

	status = http.StatusCreated
	body = `{"payment_hash":"ab","bolt11":"` + testInvoice(t, "lntb1u") + `"}`
	_, err = p.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = NewLNbitsProvider(LNbitsConfig{BaseURL: "::", AdminKey: "a", WebhookSecret: "s"})
	assert.Error(t, err)
}

func TestCoinbaseCreatePayment(t *testing.T) {
	var got coinbaseChargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "cb-key", r.Header.Get("X-CC-Api-Key"))
		assert.Equal(t, "2018-03-22", r.Header.Get("X-CC-Version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"charge-9","code":"XYZ","hosted_url":"https://commerce.coinbase.com/charges/XYZ",
			"expires_at":"2026-03-01T13:00:00Z","addresses":{"usdc":"0xabc","ethereum":"0xdef"}}}`)
	}))
	defer srv.Close()

	p, err := NewCoinbaseProvider(CoinbaseConfig{APIURL: srv.URL, APIKey: "cb-key", WebhookSecret: "s", DefaultChain: "base"})
	require.NoError(t, err)

	res, err := p.CreatePayment(context.Background(), PaymentRequest{
		IntentToken: "tok",
		OfferID:     "offer1",
		Amount:      decimal.RequireFromString("0.01"),
		Currency:    "USD",
		Description: "Purchase 1 credits for API access - 1 Credit Package",
	})
	require.NoError(t, err)
	assert.Equal(t, "charge-9", res.Reference)
	assert.Equal(t, "https://commerce.coinbase.com/charges/XYZ", res.CheckoutURL)
	assert.Equal(t, "0xabc", res.Address)
	assert.Equal(t, "USDC", res.Asset)
	assert.Equal(t, "base", res.Chain)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), res.ExpiresAt)

	assert.Equal(t, "0.01", got.LocalPrice.Amount)
	assert.Equal(t, "fixed_price", got.PricingType)
	assert.Equal(t, "tok", got.Metadata["intent_token"])

	res, err = p.CreatePayment(context.Background(), PaymentRequest{Amount: decimal.NewFromInt(1), Currency: "USD", Asset: "eth", Chain: "ethereum"})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", res.Address)
}

func TestNewVerifierRegistersProviders(t *testing.T) {
	cb, err := NewCoinbaseProvider(CoinbaseConfig{APIKey: "k", WebhookSecret: "cb"})
	require.NoError(t, err)
	ln, err := NewLNbitsProvider(LNbitsConfig{BaseURL: "https://lnbits.example.com", AdminKey: "a", WebhookSecret: "ln"})
	require.NoError(t, err)

	v := NewVerifier(cb, ln)
	v.Now = func() time.Time { return testNow }

	body := []byte(`{"payment_hash":"aa","payment_status":true}`)
	h := http.Header{}
	h.Set(LightningSignatureHeader, SignLightning([]byte("ln"), testNow, body))
	ev, err := v.Verify(body, h, models.ProviderLightning)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderLightning, ev.Provider)
}
