package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const tokenNonceSize = 24

// ContextTokens issues the opaque payment_context_token carried from a 402
// challenge to the payment request. With a secret the token seals the user
// id and the challenge expiry; without one it is the user id itself.
type ContextTokens struct {
	key    *[32]byte
	sealed bool
	Now    func() time.Time
}

type contextClaims struct {
	UserID string `json:"u"`
	Expiry int64  `json:"e"`
}

func NewContextTokens(secret string) *ContextTokens {
	t := &ContextTokens{}
	if secret != "" {
		k := sha256.Sum256([]byte(secret))
		t.key = &k
		t.sealed = true
	}
	return t
}

func (t *ContextTokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

func (t *ContextTokens) Issue(userID string, expiry time.Time) (string, error) {
	if !t.sealed {
		return userID, nil
	}
	claims, err := json.Marshal(contextClaims{UserID: userID, Expiry: expiry.Unix()})
	if err != nil {
		return "", err
	}
	var nonce [tokenNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], claims, &nonce, t.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (t *ContextTokens) Open(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidContextToken
	}
	if !t.sealed {
		return token, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= tokenNonceSize+secretbox.Overhead {
		return "", ErrInvalidContextToken
	}
	var nonce [tokenNonceSize]byte
	copy(nonce[:], raw[:tokenNonceSize])
	plain, ok := secretbox.Open(nil, raw[tokenNonceSize:], &nonce, t.key)
	if !ok {
		return "", ErrInvalidContextToken
	}
	var claims contextClaims
	if err := json.Unmarshal(plain, &claims); err != nil || claims.UserID == "" {
		return "", ErrInvalidContextToken
	}
	if t.now().Unix() >= claims.Expiry {
		return "", ErrInvalidContextToken
	}
	return claims.UserID, nil
}
