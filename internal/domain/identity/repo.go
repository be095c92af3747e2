package identity

import (
	"context"
	"time"
)

// UserRepository defines the persistence interface for users.
type UserRepository interface {
	// Create inserts u and fills ID and CreatedAt. A taken username yields ErrDuplicateUsername.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error
	// RecordLoginFailure increments failed_attempts atomically and sets
	// locked_until to lockUntil once the counter reaches threshold. It
	// returns the updated user.
	RecordLoginFailure(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*User, error)
	// RecordLoginSuccess resets the counter and stamps last_login.
	RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error
	// ClearLockout resets both the counter and locked_until.
	ClearLockout(ctx context.Context, id int64) error
}
