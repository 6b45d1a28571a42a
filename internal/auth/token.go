package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrAuth marks every credential failure. Callers check it with errors.Is.
var ErrAuth = errors.New("authentication failed")

// Token is the credential handed to the broker gateway. Alpaca accepts either an
// OAuth bearer token or an API key pair, so both shapes are carried.
type Token struct {
	AccessToken string
	APIKey      string
	APISecret   string
	ExpiresAt   time.Time // zero means it never expires
}

// Valid reports whether the token carries a usable credential at now.
func (t Token) Valid(now time.Time) bool {
	if t.AccessToken == "" && (t.APIKey == "" || t.APISecret == "") {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// Fingerprint identifies the credential without exposing it, for change detection.
func (t Token) Fingerprint() string {
	if t.AccessToken != "" {
		return "oauth:" + tail(t.AccessToken)
	}
	return "key:" + t.APIKey
}

func tail(s string) string {
	if len(s) > 6 {
		return s[len(s)-6:]
	}
	return s
}

// Provider supplies the current access token.
type Provider interface {
	AccessToken(ctx context.Context) (Token, error)
}

// EnvProvider reads credentials from the process environment on every call.
type EnvProvider struct{}

func (EnvProvider) AccessToken(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if oauth := os.Getenv("APCA_API_OAUTH_TOKEN"); oauth != "" {
		return Token{AccessToken: oauth}, nil
	}
	key := os.Getenv("APCA_API_KEY_ID")
	secret := os.Getenv("APCA_API_SECRET_KEY")
	if key == "" || secret == "" {
		return Token{}, fmt.Errorf("%w: no APCA_API_OAUTH_TOKEN or APCA_API_KEY_ID/APCA_API_SECRET_KEY in environment", ErrAuth)
	}
	return Token{APIKey: key, APISecret: secret}, nil
}

// FetchFunc obtains a fresh token from wherever tokens come from.
type FetchFunc func(ctx context.Context) (Token, error)

// CachingProvider keeps the last token until it is within Skew of expiring.
type CachingProvider struct {
	fetch FetchFunc
	skew  time.Duration
	now   func() time.Time

	mu     sync.RWMutex
	cached Token
}

// NewCachingProvider wraps fetch. skew is how early a token is treated as expired.
func NewCachingProvider(fetch FetchFunc, skew time.Duration) *CachingProvider {
	return &CachingProvider{fetch: fetch, skew: skew, now: time.Now}
}

func (c *CachingProvider) AccessToken(ctx context.Context) (Token, error) {
	c.mu.RLock()
	tok := c.cached
	c.mu.RUnlock()
	if tok.Valid(c.now().Add(c.skew)) {
		return tok, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return Token{}, err
		}
		return Token{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !fresh.Valid(c.now()) {
		return Token{}, fmt.Errorf("%w: token source returned an unusable token", ErrAuth)
	}

	c.mu.Lock()
	c.cached = fresh
	c.mu.Unlock()
	return fresh, nil
}
