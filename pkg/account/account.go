package account

import (
	"context"
	"time"

	"eventhub/pkg/claims"
	"eventhub/pkg/tokencache"
)

type User struct {
	ID    string `json:"user_id"`
	Email string `json:"email"`
}

// Login is the outcome of a successful sign in: the signed cookie value
// and the session it stands for.
type Login struct {
	User      User
	SessionID string
	Cookie    string
	ExpiresAt time.Time
}

type TokenCache interface {
	SignIn(ctx context.Context, identifier string, creds tokencache.Credentials) (tokencache.CachedToken, error)
	Peek(ctx context.Context, identifier string) (tokencache.CachedToken, bool)
	Clear(ctx context.Context, identifier string) error
}

type ServiceInterface interface {
	Login(ctx context.Context, email, password string) (*Login, error)
	Logout(ctx context.Context, s *claims.Session) error
	Token(ctx context.Context, s *claims.Session) (tokencache.CachedToken, error)
}
