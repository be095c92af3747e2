package identity

import (
	"time"
)

const (
	MaxFailedAttempts = 3
	LockoutDuration   = 15 * time.Minute
)

// User maps to the users table. Credential and lockout columns never leave
// the service in JSON.
type User struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	FailedAttempts     int        `json:"-"`
	LockedUntil        *time.Time `json:"-"`
	MustChangePassword bool       `json:"must_change_password"`
	IsAdmin            bool       `json:"is_admin"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// LockedAt reports whether the account is locked at now.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// lockExpiredAt reports whether a lock was set but has since lapsed.
func (u *User) lockExpiredAt(now time.Time) bool {
	return u.LockedUntil != nil && !now.Before(*u.LockedUntil)
}
