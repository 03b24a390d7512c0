package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/setting/entity"
)

// Repo is the repository implementation for user settings backed by PostgreSQL.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Get returns the user's settings or sql.ErrNoRows.
func (r *Repo) Get(ctx context.Context, userID int64) (*entity.Setting, error) {
	const q = `SELECT user_id, notification_interval, version, created_at, updated_at FROM user_settings WHERE user_id=$1`
	var s entity.Setting
	if err := r.db.GetContext(ctx, &s, q, userID); err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert stores the first settings row. It affects no rows when one already exists.
func (r *Repo) Insert(ctx context.Context, s *entity.Setting) (int64, error) {
	const q = `INSERT INTO user_settings (user_id, notification_interval, version, created_at, updated_at)
		VALUES (:user_id, :notification_interval, :version, :created_at, :updated_at)
		ON CONFLICT (user_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, q, s)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Update writes s only if the stored version still equals expected.
func (r *Repo) Update(ctx context.Context, s *entity.Setting, expected int64) (int64, error) {
	const q = `UPDATE user_settings SET notification_interval=$2, version=$3, updated_at=$4 WHERE user_id=$1 AND version=$5`
	res, err := r.db.ExecContext(ctx, q, s.UserID, s.NotificationInterval, s.Version, s.UpdatedAt, expected)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
