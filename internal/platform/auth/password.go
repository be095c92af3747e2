package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares in constant time. A malformed hash never matches.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const (
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "-_.!@#"
	allChars    = lowerChars + upperChars + digitChars + symbolChars
)

// GeneratePassword returns a random password of length n (minimum 12) that
// contains at least one lower case letter, upper case letter and digit.
// Ambiguous glyphs (l, 1, O, 0) are left out.
func GeneratePassword(n int) (string, error) {
	if n < 12 {
		n = 12
	}
	buf := make([]byte, n)
	required := []string{lowerChars, upperChars, digitChars}
	for i := range buf {
		set := allChars
		if i < len(required) {
			set = required[i]
		}
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		buf[i] = ch
	}
	// Shuffle so the required classes are not always at the front.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return string(buf), nil
}

func randomChar(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[idx.Int64()], nil
}
