package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"

	"eventhub/pkg/claims"
	"eventhub/pkg/cookie"
	"eventhub/pkg/generator"
	"eventhub/pkg/session"
	"eventhub/pkg/tokencache"
)

const sessionIDLength = 32

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("session token expired")
)

type Service struct {
	Tokens  TokenCache
	Session session.Repository
	Secret  []byte
	TTL     time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(tokens TokenCache, sessions session.Repository, secret []byte, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Tokens:  tokens,
		Session: sessions,
		Secret:  secret,
		TTL:     ttl,
		Logger:  logger,
		Now:     time.Now,
	}
}

func identifier(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Login(ctx context.Context, email, password string) (*Login, error) {
	id := identifier(email)
	tok, err := s.Tokens.SignIn(ctx, id, tokencache.Credentials{Email: email, Password: password})
	if err != nil {
		if errors.Is(err, tokencache.ErrSignIn) || errors.Is(err, tokencache.ErrMissingSession) {
			s.Logger.Info("login rejected", "email", id, "error", err)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	sessionID, err := generator.GenerateRandomID(sessionIDLength)
	if err != nil {
		return nil, fmt.Errorf("SessionID gen error: %w", err)
	}

	now := s.Now()
	expiresAt := now.Add(s.TTL)
	if err := s.Session.Create(ctx, sessionID, tok.AccountID, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	value, err := cookie.Sign(claims.Session{
		UserID:    tok.AccountID,
		Email:     id,
		SessionID: sessionID,
		StandardClaims: jwt.StandardClaims{
			Subject:   tok.AccountID,
			IssuedAt:  now.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
	}, s.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &Login{
		User:      User{ID: tok.AccountID, Email: id},
		SessionID: sessionID,
		Cookie:    value,
		ExpiresAt: expiresAt,
	}, nil
}

// Logout ends the session and forgets the user's cached token.
func (s *Service) Logout(ctx context.Context, sess *claims.Session) error {
	if err := s.Session.Invalidate(ctx, sess.SessionID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if err := s.Tokens.Clear(ctx, identifier(sess.Email)); err != nil {
		s.Logger.Warn("failed to clear cached token", "user_id", sess.UserID, "error", err)
	}
	return nil
}

// Token returns the cached bearer token of the session's user. The password
// is not kept, so an expired token means the user has to log in again.
func (s *Service) Token(ctx context.Context, sess *claims.Session) (tokencache.CachedToken, error) {
	tok, ok := s.Tokens.Peek(ctx, identifier(sess.Email))
	if !ok {
		return tokencache.CachedToken{}, ErrTokenExpired
	}
	return tok, nil
}
