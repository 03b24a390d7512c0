package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session/entity"
)

type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

func (r *RefreshRepo) Save(ctx context.Context, tokenHash string, userID int64, clientID string, expiresAt time.Time) (int64, error) {
	query := `INSERT INTO refresh_sessions (token_hash, user_id, client_id, expires_at) VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	row := r.db.QueryRowxContext(ctx, query, tokenHash, userID, clientID, expiresAt)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the session stored under tokenHash or sql.ErrNoRows.
func (r *RefreshRepo) Get(ctx context.Context, tokenHash string) (*entity.RefreshSession, error) {
	var s entity.RefreshSession
	query := `SELECT id, token_hash, user_id, client_id, expires_at FROM refresh_sessions WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &s, query, tokenHash); err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete removes a session and reports whether it existed. Rotation relies on the
// result so that a refresh token can be redeemed once.
func (r *RefreshRepo) Delete(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RefreshRepo) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpired prunes sessions past their expiry.
func (r *RefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
