// Package tokencache keeps visitor and per-user bearer tokens in memory (or
// a shared store) and signs in again only once a token is within the skew
// margin of its expiry.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"eventhub/internal/metrics"
)

const (
	DefaultSkew      = 10 * time.Second
	fallbackLifetime = time.Hour

	kindVisitor = "visitor"
	kindUser    = "user"

	visitorKey    = "visitor"
	userKeyPrefix = "user:"
)

type Cache struct {
	provider IdentityProvider
	visitor  Credentials
	store    Store
	now      func() time.Time
	skew     time.Duration
	logger   *slog.Logger
	flights  *singleflight.Group
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithSkew(skew time.Duration) Option {
	return func(c *Cache) { c.skew = skew }
}

func WithStore(store Store) Option {
	return func(c *Cache) { c.store = store }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithSingleFlight collapses concurrent refreshes of the same key into one
// sign in. Without it every caller that misses signs in on its own.
func WithSingleFlight() Option {
	return func(c *Cache) { c.flights = &singleflight.Group{} }
}

func New(provider IdentityProvider, visitor Credentials, opts ...Option) *Cache {
	c := &Cache{
		provider: provider,
		visitor:  visitor,
		store:    NewMemoryStore(),
		now:      time.Now,
		skew:     DefaultSkew,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Visitor returns the shared visitor token, signing in with the visitor
// credentials when the cached one is missing or about to expire.
func (c *Cache) Visitor(ctx context.Context) (CachedToken, error) {
	return c.get(ctx, kindVisitor, visitorKey, c.visitor, VisitorClaim)
}

func (c *Cache) VisitorToken(ctx context.Context) (string, error) {
	tok, err := c.Visitor(ctx)
	return tok.Value, err
}

// User returns the token cached under identifier (an email or user id),
// signing in with creds on a miss.
func (c *Cache) User(ctx context.Context, identifier string, creds Credentials) (CachedToken, error) {
	if identifier == "" {
		return CachedToken{}, ErrMissingIdentifier
	}
	return c.get(ctx, kindUser, userKeyPrefix+identifier, creds, UserClaim)
}

// SignIn always authenticates creds with the provider and replaces the entry
// cached under identifier. Use it wherever the password itself has to be
// checked; User may hand back a token obtained with other credentials.
func (c *Cache) SignIn(ctx context.Context, identifier string, creds Credentials) (CachedToken, error) {
	if identifier == "" {
		return CachedToken{}, ErrMissingIdentifier
	}
	metrics.TokenRequests.WithLabelValues(kindUser, "sign_in").Inc()
	return c.refresh(ctx, kindUser, userKeyPrefix+identifier, creds, UserClaim)
}

func (c *Cache) UserToken(ctx context.Context, identifier string, creds Credentials) (string, error) {
	tok, err := c.User(ctx, identifier, creds)
	return tok.Value, err
}

// Peek returns a fresh user token without signing in.
func (c *Cache) Peek(ctx context.Context, identifier string) (CachedToken, bool) {
	if identifier == "" {
		return CachedToken{}, false
	}
	return c.lookup(ctx, userKeyPrefix+identifier)
}

func (c *Cache) Has(ctx context.Context, identifier string) bool {
	_, ok := c.Peek(ctx, identifier)
	return ok
}

// Clear drops the user entry for identifier.
func (c *Cache) Clear(ctx context.Context, identifier string) error {
	if identifier == "" {
		return ErrMissingIdentifier
	}
	return c.store.Delete(ctx, userKeyPrefix+identifier)
}

// ClearAll drops every entry, the visitor token included.
func (c *Cache) ClearAll(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *Cache) get(ctx context.Context, kind, key string, creds Credentials, claim Claim) (CachedToken, error) {
	if tok, ok := c.lookup(ctx, key); ok {
		metrics.TokenRequests.WithLabelValues(kind, "hit").Inc()
		return tok, nil
	}
	metrics.TokenRequests.WithLabelValues(kind, "miss").Inc()

	if c.flights == nil {
		return c.refresh(ctx, kind, key, creds, claim)
	}
	// The shared refresh outlives any single caller; each caller stops
	// waiting on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.refresh(flightCtx, kind, key, creds, claim)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return CachedToken{}, res.Err
		}
		return res.Val.(CachedToken), nil
	case <-ctx.Done():
		return CachedToken{}, ctx.Err()
	}
}

func (c *Cache) lookup(ctx context.Context, key string) (CachedToken, bool) {
	tok, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("token store read failed", "key", key, "error", err)
		return CachedToken{}, false
	}
	if !ok {
		return CachedToken{}, false
	}
	if !tok.Fresh(c.now(), c.skew) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("token store delete failed", "key", key, "error", err)
		}
		return CachedToken{}, false
	}
	return tok, true
}

func (c *Cache) refresh(ctx context.Context, kind, key string, creds Credentials, claim Claim) (CachedToken, error) {
	sess, err := c.ensureClaim(ctx, kind, creds, claim)
	if err != nil {
		return CachedToken{}, err
	}

	tok := CachedToken{
		Value:     sess.AccessToken,
		ExpiresAt: c.expiresAt(sess),
		AccountID: sess.Account.ID,
	}
	ttl := time.Unix(tok.ExpiresAt, 0).Sub(c.now())
	if err := c.store.Set(ctx, key, tok, ttl); err != nil {
		c.logger.Warn("token store write failed", "key", key, "error", err)
	}
	c.logger.Debug("token refreshed", "kind", kind, "account", tok.AccountID, "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (c *Cache) signIn(ctx context.Context, kind string, creds Credentials) (*AuthSession, error) {
	sess, err := c.provider.SignInWithPassword(ctx, creds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.TokenSignIns.WithLabelValues(kind, "rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrSignIn, err)
	}
	if sess == nil || sess.AccessToken == "" || sess.Account == nil {
		metrics.TokenSignIns.WithLabelValues(kind, "empty").Inc()
		return nil, ErrMissingSession
	}
	metrics.TokenSignIns.WithLabelValues(kind, "ok").Inc()
	return sess, nil
}

// expiresAt prefers the absolute expiry, then the relative one, and falls
// back to an hour when the provider sent neither.
func (c *Cache) expiresAt(sess *AuthSession) int64 {
	switch {
	case sess.ExpiresAt > 0:
		return sess.ExpiresAt
	case sess.ExpiresIn > 0:
		return c.now().Unix() + sess.ExpiresIn
	default:
		return c.now().Add(fallbackLifetime).Unix()
	}
}
