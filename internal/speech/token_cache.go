package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource fetches a fresh access token. clientcredentials.Config
// satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// NewClientCredentialsSource builds the Baidu style client-credentials flow,
// which expects the client id and secret as request parameters.
func NewClientCredentialsSource(tokenURL, apiKey, secretKey string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     apiKey,
		ClientSecret: secretKey,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// TokenCache keeps the last token until margin before it expires.
// Concurrent callers may both refresh; the last write wins.
type TokenCache struct {
	source TokenSource
	margin time.Duration
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type TokenCacheOption func(*TokenCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

func NewTokenCache(source TokenSource, margin time.Duration, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		source: source,
		margin: margin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached token or fetches a new one.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, fresh := c.token, c.freshLocked()
	c.mu.Unlock()
	if fresh {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh fetches a token unconditionally. The lock is not held while the
// request is in flight.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	tok, err := c.source.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch speech token failed: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", fmt.Errorf("fetch speech token failed: empty access token")
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = tok.Expiry
	c.mu.Unlock()
	return tok.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the vendor rejected it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ExpiresAt is zero when no token is cached or the token never expires.
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

func (c *TokenCache) freshLocked() bool {
	if c.token == "" {
		return false
	}
	if c.expiresAt.IsZero() {
		return true
	}
	return c.now().Add(c.margin).Before(c.expiresAt)
}
