package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restrack/restrack/internal/platform/db"
)

const uniqueViolation = "23505"

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const userCols = `id, username, email, password_hash, failed_attempts, locked_until,
	must_change_password, is_admin, last_login, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FailedAttempts, &u.LockedUntil,
		&u.MustChangePassword, &u.IsAdmin, &u.LastLogin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, must_change_password, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		u.Username, u.Email, u.PasswordHash, u.MustChangePassword, u.IsAdmin,
	).Scan(&u.ID, &u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
}

func (r *userRepoPG) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET password_hash = $2, must_change_password = $3,
			failed_attempts = 0, locked_until = NULL
		WHERE id = $1`, id, hash, mustChange)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END
		WHERE id = $1
		RETURNING `+userCols, id, threshold, lockUntil))
}

func (r *userRepoPG) RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = $2
		WHERE id = $1`, id, at)
	return err
}

func (r *userRepoPG) ClearLockout(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE id = $1`, id)
	return err
}
