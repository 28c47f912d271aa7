package session

import (
	"context"
	"database/sql"
	"time"
)

type MySQLSessionRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewMySQLSessionRepo(db *sql.DB) *MySQLSessionRepo {
	return &MySQLSessionRepo{DB: db, Now: time.Now}
}

func (r *MySQLSessionRepo) Create(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, userID, r.Now().UTC(), expiresAt.UTC())
	return err
}

func (r *MySQLSessionRepo) IsValid(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE id = ? AND expires_at > ?
		)
	`, sessionID, r.Now().UTC()).Scan(&exists)
	return exists, err
}

func (r *MySQLSessionRepo) Invalidate(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ?
	`, sessionID)
	return err
}

// Purge deletes expired rows and returns how many were removed.
func (r *MySQLSessionRepo) Purge(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= ?
	`, r.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
