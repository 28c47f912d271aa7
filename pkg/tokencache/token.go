package tokencache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignIn            = errors.New("sign in failed")
	ErrMissingSession    = errors.New("sign in returned no session or user")
	ErrClaimRepair       = errors.New("claim repair failed")
	ErrMissingIdentifier = errors.New("missing token identifier")
)

// CachedToken is a bearer token and the epoch second it expires at. Entries
// are replaced wholesale on refresh.
type CachedToken struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
	AccountID string `json:"account_id,omitempty"`
}

// Fresh reports whether the token may still be handed out at now, leaving
// skew as margin before expiry.
func (t CachedToken) Fresh(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return now.Before(time.Unix(t.ExpiresAt, 0).Add(-skew))
}

type Credentials struct {
	Email    string
	Password string
}

type Account struct {
	ID          string
	Email       string
	AppMetadata map[string]any
}

// AuthSession is what the identity provider returns for a password sign in.
// ExpiresAt and ExpiresIn are best effort; either may be zero.
type AuthSession struct {
	AccessToken string
	ExpiresIn   int64
	ExpiresAt   int64
	Account     *Account
}

type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, creds Credentials) (*AuthSession, error)
	UpdateAppMetadata(ctx context.Context, accountID string, metadata map[string]any) error
}
