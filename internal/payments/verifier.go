package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"L402Paywall/internal/models"
)

// Verifier authenticates raw webhook bodies against the scheme registered
// for the provider named by the route.
type Verifier struct {
	schemes map[models.Provider]WebhookScheme
	Now     func() time.Time
}

func NewVerifier(providers ...Provider) *Verifier {
	v := &Verifier{schemes: make(map[models.Provider]WebhookScheme)}
	for _, p := range providers {
		v.Register(p.Name(), p.WebhookScheme())
	}
	return v
}

func (v *Verifier) Register(provider models.Provider, scheme WebhookScheme) {
	v.schemes[provider] = scheme
}

func (v *Verifier) Verify(body []byte, headers http.Header, provider models.Provider) (*VerifiedEvent, error) {
	scheme, ok := v.schemes[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	sig := strings.TrimSpace(headers.Get(scheme.SignatureHeader()))
	if sig == "" {
		return nil, ErrMissingSignature
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now()
	}
	return scheme.Verify(body, sig, now)
}

func hmacSHA256(secret []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, secret)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

func equalHexMAC(expected []byte, sigHex string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sig)
}
