package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/restrack/restrack/internal/platform/auth"
	"github.com/restrack/restrack/internal/platform/metrics"
)

const generatedPasswordLength = 16

type Service struct {
	users  UserRepository
	tokens *auth.TokenIssuer
	policy Policy
	now    func() time.Time
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, policy Policy) *Service {
	return &Service{users: users, tokens: tokens, policy: policy, now: time.Now}
}

// -- Authentication --

// Authenticate checks credentials and drives the lockout state machine.
// A locked account fails with ErrAccountLocked before the password is
// compared. Unknown usernames leave no trace.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		metrics.LoginAttempt(metrics.LoginFailure)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	now := s.now()
	if u.LockedAt(now) {
		metrics.LoginAttempt(metrics.LoginLocked)
		return nil, ErrAccountLocked
	}
	if u.lockExpiredAt(now) {
		if err := s.users.ClearLockout(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("clear lockout: %w", err)
		}
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}

	if !auth.CheckPassword(u.PasswordHash, password) {
		if _, err := s.users.RecordLoginFailure(ctx, u.ID, MaxFailedAttempts, now.Add(LockoutDuration)); err != nil {
			return nil, fmt.Errorf("record login failure: %w", err)
		}
		metrics.LoginAttempt(metrics.LoginFailure)
		return nil, ErrInvalidCredentials
	}

	if err := s.users.RecordLoginSuccess(ctx, u.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	u.FailedAttempts = 0
	u.LastLogin = &now
	metrics.LoginAttempt(metrics.LoginSuccess)
	return u, nil
}

// Login authenticates and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*User, *auth.Token, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}
	tok, err := s.IssueToken(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tok, nil
}

func (s *Service) IssueToken(u *User) (*auth.Token, error) {
	return s.tokens.Issue(u.Username, u.IsAdmin, u.MustChangePassword)
}

// -- Users --

type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUser registers an account with a generated password, which is
// returned once. The user must change it on first login.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, string, error) {
	if err := ValidateUsername(in.Username); err != nil {
		return nil, "", err
	}
	if err := s.policy.ValidateEmail(in.Email); err != nil {
		return nil, "", err
	}
	password, err := auth.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	u := &User{
		Username:           in.Username,
		Email:              in.Email,
		PasswordHash:       hash,
		MustChangePassword: true,
		IsAdmin:            in.IsAdmin,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, "", err
	}
	return u, password, nil
}

// ChangePassword verifies current, stores next and returns a token that no
// longer carries the must-change flag.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) (*auth.Token, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, current) {
		return nil, ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return nil, err
	}
	if current == next {
		return nil, invalid("new password must differ from the current password")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash, false); err != nil {
		return nil, err
	}
	u.MustChangePassword = false
	return s.IssueToken(u)
}

// ResetPassword replaces the password with a generated one, clears any
// lockout and forces a change on next login.
func (s *Service) ResetPassword(ctx context.Context, username string) (string, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	password, err := auth.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash, true); err != nil {
		return "", err
	}
	return password, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

// UserExists satisfies the worklist service's user lookup.
func (s *Service) UserExists(ctx context.Context, id int64) (bool, error) {
	return s.users.Exists(ctx, id)
}

// UserIDByUsername resolves the owner of newly created worklists.
func (s *Service) UserIDByUsername(ctx context.Context, username string) (int64, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}
