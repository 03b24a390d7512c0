package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/database"
)

var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

const userColumns = `id, username, email, first_name, last_name, date_of_birth,
	password_hash, password_algo, password_updated_at, role, confirmed,
	status, login_failed_attempts, locked_until, last_login_at,
	version, created_at, updated_at, deactivated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. The id must already be assigned.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id,username,email,first_name,last_name,date_of_birth,password_hash,password_algo,password_updated_at,role,confirmed,status,version)
		  VALUES (:id,:username,:email,:first_name,:last_name,:date_of_birth,:password_hash,:password_algo,:password_updated_at,:role,:confirmed,:status,:version)
		  RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return mapUniqueErr(err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&u.CreatedAt, &u.UpdatedAt)
	}
	if err := rows.Err(); err != nil {
		return mapUniqueErr(err)
	}
	return errors.New("no row returned")
}

// GetByEmail returns a user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername fetches by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE username=$1`, username); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetMinimalAuthView returns only the fields needed for session checks.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	const q = `SELECT id, username, email, role, confirmed, status, version FROM users WHERE id=$1`
	var v entity.MinimalAuthView
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold locks the user if attempts >= threshold and currently active.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error) {
	const q = `UPDATE users SET status='locked', locked_until = NOW() + make_interval(mins => $2), updated_at=NOW()
              WHERE id=$1 AND status='active' AND login_failed_attempts >= $3 RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id, lockMinutes, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id int64) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// BumpVersion increments version, invalidating every session issued before.
func (r *UserRepo) BumpVersion(ctx context.Context, id int64) error {
	const q = `UPDATE users SET version = version + 1, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UnlockIfExpired sets status back to active if locked_until passed.
func (r *UserRepo) UnlockIfExpired(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE users SET status='active', locked_until=NULL, login_failed_attempts=0, updated_at=NOW()
               WHERE id=$1 AND status='locked' AND locked_until IS NOT NULL AND locked_until < NOW() RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdatePassword updates password hash & algo and optionally bumps version.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash, algo string, bumpVersion bool) error {
	if bumpVersion {
		const q = `UPDATE users SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), version=version+1, updated_at=NOW() WHERE id=$1`
		_, err := r.db.ExecContext(ctx, q, id, hash, algo)
		return err
	}
	const q = `UPDATE users SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash, algo)
	return err
}

// SetConfirmed marks the account's email as confirmed.
func (r *UserRepo) SetConfirmed(ctx context.Context, id int64) error {
	const q = `UPDATE users SET confirmed=true, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UpdateEmail sets the email. Setting the current value again is a no-op.
func (r *UserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	const q = `UPDATE users SET email=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, email)
	return mapUniqueErr(err)
}

func (r *UserRepo) UpdateUsername(ctx context.Context, id int64, username string) error {
	const q = `UPDATE users SET username=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, username)
	return mapUniqueErr(err)
}

// UpdateDetails persists the profile fields that owners may edit.
func (r *UserRepo) UpdateDetails(ctx context.Context, u *entity.User) error {
	const q = `UPDATE users SET first_name=:first_name, last_name=:last_name, date_of_birth=:date_of_birth, updated_at=NOW() WHERE id=:id`
	_, err := r.db.NamedExecContext(ctx, q, u)
	return err
}

// Deactivate marks a user as disabled and revokes its sessions.
func (r *UserRepo) Deactivate(ctx context.Context, id int64) error {
	const q = `UPDATE users SET status='disabled', deactivated_at=NOW(), version=version+1, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func mapUniqueErr(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, "users_email_key"):
		return ErrDuplicateEmail
	case database.IsUniqueViolation(err, "users_username_key"):
		return ErrDuplicateUsername
	default:
		return err
	}
}
