package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UsernameKey contextKey = "username"
	ClaimsKey   contextKey = "claims"
)

// AccessTokenCookie is the cookie fallback for browser clients.
const AccessTokenCookie = "access_token"

type JWTConfig struct {
	Issuer      *TokenIssuer
	Revocations RevocationStore
	// Skipper bypasses authentication for public routes. Defaults to AuthSkipper.
	Skipper func(c echo.Context) bool
}

func notAuthenticated() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
}

// JWTMiddleware authenticates each request from the bearer header or the
// access_token cookie. A missing, invalid, expired or revoked token all
// produce the same 401.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	skipper := cfg.Skipper
	if skipper == nil {
		skipper = AuthSkipper
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			tokenStr := TokenFromRequest(c.Request())
			if tokenStr == "" {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return notAuthenticated()
			}

			claims, err := cfg.Issuer.Validate(tokenStr)
			if err != nil {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return notAuthenticated()
			}

			if cfg.Revocations != nil {
				revoked, err := cfg.Revocations.IsRevoked(c.Request().Context(), claims.ID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication backend unavailable")
				}
				if revoked {
					c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
					return notAuthenticated()
				}
			}

			c.Set("username", claims.Subject)
			ctx := context.WithValue(c.Request().Context(), UsernameKey, claims.Subject)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the access_token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if tok := strings.TrimSpace(parts[1]); tok != "" {
				return tok
			}
		}
	}
	if ck, err := r.Cookie(AccessTokenCookie); err == nil {
		tok := strings.TrimSpace(ck.Value)
		if len(tok) > 7 && strings.EqualFold(tok[:7], "bearer ") {
			tok = strings.TrimSpace(tok[7:])
		}
		return tok
	}
	return ""
}

// RequirePasswordChanged rejects every route except allowed while the
// token says the user still has to replace an issued password. allowed holds
// echo route templates (c.Path()).
func RequirePasswordChanged(allowed ...string) echo.MiddlewareFunc {
	exempt := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		exempt[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFromContext(c.Request().Context())
			if claims == nil || !claims.MustChangePassword || exempt[c.Path()] {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "password change required")
		}
	}
}

func UsernameFromContext(ctx context.Context) string {
	u, _ := ctx.Value(UsernameKey).(string)
	return u
}

func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// WithClaims stores claims on ctx the way JWTMiddleware does. Handlers under
// test use it to simulate an authenticated caller.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UsernameKey, claims.Subject)
	return context.WithValue(ctx, ClaimsKey, claims)
}
