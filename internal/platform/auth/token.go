package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by access tokens. Subject is the username.
type Claims struct {
	jwt.RegisteredClaims
	Admin              bool `json:"adm,omitempty"`
	MustChangePassword bool `json:"pwc,omitempty"`
}

// Token is a signed access token together with the claims needed to revoke it.
type Token struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for username.
func (i *TokenIssuer) Issue(username string, admin, mustChangePassword bool) (*Token, error) {
	if username == "" {
		return nil, fmt.Errorf("issue token: empty subject")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	jti := ksuid.New().String()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		Admin:              admin,
		MustChangePassword: mustChangePassword,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Value: signed, JTI: jti, ExpiresAt: exp}, nil
}

// Validate parses tokenStr and returns its claims. Any malformed, expired,
// wrongly signed or subject-less token yields ErrInvalidToken.
func (i *TokenIssuer) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
