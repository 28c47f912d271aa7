package claims

import (
	"context"

	jwt "github.com/dgrijalva/jwt-go"
)

type contextKey string

const (
	SessionContextKey contextKey = "session"
)

// Session is the payload of the signed session cookie.
type Session struct {
	UserID    string `json:"user_id" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	SessionID string `json:"session_id" validate:"required"`
	jwt.StandardClaims
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*Session)
	if !ok || s == nil || s.UserID == "" {
		return nil, false
	}
	return s, true
}
