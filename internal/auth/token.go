package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// defaultTTL is the token lifetime used when TokenConfig.TTL is zero.
const defaultTTL = 24 * time.Hour

// TokenConfig holds the signing material for a [TokenAuthenticator].
type TokenConfig struct {
	// Secret is the HMAC-SHA256 signing key. Must be non-empty.
	Secret []byte

	// TTL is the lifetime of issued tokens. Zero means 24 hours.
	TTL time.Duration

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// TokenAuthenticator issues and verifies HMAC-signed bearer tokens. It
// implements [Authenticator]. Tokens are two base64url segments,
// payload.signature, where the payload is a JSON claims object.
type TokenAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// claims is the signed token payload.
type claims struct {
	Subject int64  `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Expires int64  `json:"exp"`
}

// NewTokenAuthenticator creates a TokenAuthenticator from cfg.
func NewTokenAuthenticator(cfg TokenConfig) (*TokenAuthenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret must not be empty")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenAuthenticator{secret: cfg.Secret, ttl: ttl, now: now}, nil
}

// Issue mints a signed token for p, valid for the configured TTL.
func (a *TokenAuthenticator) Issue(p Principal) (string, error) {
	c := claims{
		Subject: p.UserID,
		Email:   p.Email,
		Name:    p.Name,
		Expires: a.now().Add(a.ttl).Unix(),
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("auth: marshal claims: %w", err)
	}
	enc := base64.RawURLEncoding.EncodeToString(payload)
	return enc + "." + a.sign(enc), nil
}

// Authenticate verifies token's signature and expiry and returns the
// principal it was issued to.
func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (Principal, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Principal{}, fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	if !hmac.Equal([]byte(a.sign(payload)), []byte(sig)) {
		return Principal{}, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad encoding", ErrInvalidToken)
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Principal{}, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	if c.Subject <= 0 {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if a.now().Unix() >= c.Expires {
		return Principal{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return Principal{UserID: c.Subject, Email: c.Email, Name: c.Name}, nil
}

// sign returns the base64url HMAC-SHA256 of msg under the configured secret.
func (a *TokenAuthenticator) sign(msg string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
