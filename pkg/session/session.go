package session

import (
	"context"
	"time"
)

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Repository interface {
	Create(ctx context.Context, sessionID, userID string, expiresAt time.Time) error
	IsValid(ctx context.Context, sessionID string) (bool, error)
	Invalidate(ctx context.Context, sessionID string) error
}
