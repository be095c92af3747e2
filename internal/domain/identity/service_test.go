package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/restrack/restrack/internal/platform/auth"
)

type mockUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*User
	nextID int64
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id int64, hash string, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.MustChangePassword = mustChange
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (m *mockUserRepo) RecordLoginFailure(_ context.Context, id int64, threshold int, lockUntil time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= threshold {
		lu := lockUntil
		u.LockedUntil = &lu
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) RecordLoginSuccess(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &at
	return nil
}

func (m *mockUserRepo) ClearLockout(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

const testPassword = "Correct-Horse7"

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *mockUserRepo, *testClock) {
	t.Helper()
	repo := newMockUserRepo()
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute)
	svc := NewService(repo, issuer, Policy{AllowedEmailDomains: []string{"nhs.net"}})
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, repo, clock
}

func seedUser(t *testing.T, repo *mockUserRepo, username string, mustChange bool) *User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{Username: username, Email: username + "@nhs.net", PasswordHash: hash, MustChangePassword: mustChange}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return u
}

func TestAuthenticate_Success(t *testing.T) {
	svc, repo, clock := newTestService(t)
	seeded := seedUser(t, repo, "alice", false)

	u, err := svc.Authenticate(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != seeded.ID {
		t.Errorf("expected user %d, got %d", seeded.ID, u.ID)
	}
	stored, _ := repo.GetByID(context.Background(), seeded.ID)
	if stored.LastLogin == nil || !stored.LastLogin.Equal(clock.t) {
		t.Errorf("expected last_login to be stamped, got %v", stored.LastLogin)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "nobody", testPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticate_WrongPasswordIncrements(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seeded := seedUser(t, repo, "alice", false)

	_, err := svc.Authenticate(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), seeded.ID)
	if stored.FailedAttempts != 1 {
		t.Errorf("expected 1 failed attempt, got %d", stored.FailedAttempts)
	}
	if stored.LockedUntil != nil {
		t.Error("account should not be locked after one failure")
	}
}

func TestAuthenticate_LockoutRejectsCorrectPassword(t *testing.T) {
	svc, repo, clock := newTestService(t)
	seeded := seedUser(t, repo, "alice", false)
	ctx := context.Background()

	for i := 0; i < MaxFailedAttempts; i++ {
		if _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	stored, _ := repo.GetByID(ctx, seeded.ID)
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(clock.t.Add(LockoutDuration)) {
		t.Fatalf("expected lock until %v, got %v", clock.t.Add(LockoutDuration), stored.LockedUntil)
	}

	_, err := svc.Authenticate(ctx, "alice", testPassword)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked on 4th attempt with correct password, got %v", err)
	}

	stored, _ = repo.GetByID(ctx, seeded.ID)
	if stored.FailedAttempts != MaxFailedAttempts {
		t.Errorf("locked attempt must not touch the counter, got %d", stored.FailedAttempts)
	}
}

func TestAuthenticate_ExpiredLockClears(t *testing.T) {
	svc, repo, clock := newTestService(t)
	seeded := seedUser(t, repo, "alice", false)
	ctx := context.Background()

	for i := 0; i < MaxFailedAttempts; i++ {
		_, _ = svc.Authenticate(ctx, "alice", "wrong")
	}
	clock.t = clock.t.Add(LockoutDuration + time.Second)

	if _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	stored, _ := repo.GetByID(ctx, seeded.ID)
	if stored.FailedAttempts != 1 {
		t.Errorf("expected counter to restart at 1, got %d", stored.FailedAttempts)
	}
	if stored.LockedUntil != nil {
		t.Error("expected lock to be cleared")
	}

	if _, err := svc.Authenticate(ctx, "alice", testPassword); err != nil {
		t.Fatalf("expected success after lock expiry, got %v", err)
	}
}

func TestLogin_IssuesTokenWithClaims(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, repo, "alice", true)

	u, tok, err := svc.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.MustChangePassword {
		t.Error("expected must_change_password to be carried")
	}
	claims, err := svc.tokens.Validate(tok.Value)
	if err != nil {
		t.Fatalf("issued token did not validate: %v", err)
	}
	if claims.Subject != "alice" || !claims.MustChangePassword {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestCreateUser(t *testing.T) {
	svc, repo, _ := newTestService(t)

	u, password, err := svc.CreateUser(context.Background(), NewUser{Username: "bob.smith", Email: "bob@NHS.net"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.MustChangePassword {
		t.Error("new users must change their password")
	}
	if len(password) < 12 {
		t.Errorf("generated password too short: %q", password)
	}
	stored, _ := repo.GetByID(context.Background(), u.ID)
	if !auth.CheckPassword(stored.PasswordHash, password) {
		t.Error("stored hash does not match the returned password")
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, repo, "taken", false)

	tests := []struct {
		name string
		in   NewUser
		want error
	}{
		{"short username", NewUser{Username: "ab", Email: "ab@nhs.net"}, ErrValidation},
		{"bad characters", NewUser{Username: "bob smith", Email: "bob@nhs.net"}, ErrValidation},
		{"bad email", NewUser{Username: "bob", Email: "not-an-email"}, ErrValidation},
		{"foreign domain", NewUser{Username: "bob", Email: "bob@gmail.com"}, ErrValidation},
		{"duplicate", NewUser{Username: "taken", Email: "taken@nhs.net"}, ErrDuplicateUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateUser(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestChangePassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seeded := seedUser(t, repo, "alice", true)
	ctx := context.Background()

	if _, err := svc.ChangePassword(ctx, "alice", "wrong", "NewPassw0rd!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.ChangePassword(ctx, "alice", testPassword, "weak"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for weak password, got %v", err)
	}
	if _, err := svc.ChangePassword(ctx, "alice", testPassword, testPassword); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unchanged password, got %v", err)
	}

	tok, err := svc.ChangePassword(ctx, "alice", testPassword, "NewPassw0rd!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := svc.tokens.Validate(tok.Value)
	if err != nil {
		t.Fatalf("token did not validate: %v", err)
	}
	if claims.MustChangePassword {
		t.Error("fresh token must not carry the pwc claim")
	}
	stored, _ := repo.GetByID(ctx, seeded.ID)
	if stored.MustChangePassword {
		t.Error("must_change_password should be cleared")
	}
	if !auth.CheckPassword(stored.PasswordHash, "NewPassw0rd!") {
		t.Error("new password not stored")
	}
}

func TestResetPassword(t *testing.T) {
	svc, repo, clock := newTestService(t)
	seeded := seedUser(t, repo, "alice", false)
	ctx := context.Background()
	for i := 0; i < MaxFailedAttempts; i++ {
		_, _ = svc.Authenticate(ctx, "alice", "wrong")
	}

	password, err := svc.ResetPassword(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := repo.GetByID(ctx, seeded.ID)
	if stored.LockedAt(clock.t) {
		t.Error("reset should clear the lock")
	}
	if !stored.MustChangePassword {
		t.Error("reset should force a password change")
	}
	if _, err := svc.Authenticate(ctx, "alice", password); err != nil {
		t.Errorf("expected login with reset password, got %v", err)
	}

	if _, err := svc.ResetPassword(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		pw    string
		valid bool
	}{
		{"Abcdefghi1", true},
		{"abcdefghi1", false},
		{"ABCDEFGHI1", false},
		{"Abcdefghij", false},
		{"Abc1", false},
		{"Aa1" + strings.Repeat("x", 69), true},
		{"Aa1" + strings.Repeat("x", 70), false},
	}
	for _, tt := range tests {
		if err := ValidatePassword(tt.pw); (err == nil) != tt.valid {
			t.Errorf("ValidatePassword(%q) = %v, want valid=%v", tt.pw, err, tt.valid)
		}
	}
}

func TestPolicy_AnyDomainWhenUnset(t *testing.T) {
	if err := (Policy{}).ValidateEmail("someone@example.org"); err != nil {
		t.Errorf("expected any domain to pass, got %v", err)
	}
	if err := (Policy{}).ValidateEmail("Someone <someone@example.org>"); err == nil {
		t.Error("display-name addresses should be rejected")
	}
}
