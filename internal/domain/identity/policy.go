package identity

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

const (
	MinPasswordLength = 10
	// MaxPasswordLength is bcrypt's input limit in bytes.
	MaxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)

// Policy holds the account rules that come from configuration.
type Policy struct {
	// AllowedEmailDomains restricts new accounts to these domains. Empty
	// allows any domain.
	AllowedEmailDomains []string
}

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return invalid("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidateEmail checks the address syntax and, when configured, its domain.
func (p Policy) ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("invalid email address")
	}
	if len(p.AllowedEmailDomains) == 0 {
		return nil
	}
	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range p.AllowedEmailDomains {
		if domain == strings.ToLower(allowed) {
			return nil
		}
	}
	return invalid("email domain is not allowed")
}

// ValidatePassword enforces length and character classes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return invalid("password must be at least 10 characters")
	}
	if len(password) > MaxPasswordLength {
		return invalid("password must be at most 72 bytes")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return invalid("password must contain upper case, lower case and a digit")
	}
	return nil
}
