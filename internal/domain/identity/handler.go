package identity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/restrack/restrack/internal/platform/auth"
)

type HandlerConfig struct {
	Logger      zerolog.Logger
	Revocations auth.RevocationStore

	// LoginMiddleware wraps POST /token only, e.g. a per-IP rate limit.
	LoginMiddleware []echo.MiddlewareFunc

	// SecureCookies marks the access_token cookie Secure. Off for plain-HTTP development.
	SecureCookies bool
}

type Handler struct {
	svc *Service
	cfg HandlerConfig
}

func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// Route templates that stay reachable while a password change is pending.
const (
	CurrentUserPath    = "/api/v1/current_user"
	ChangePasswordPath = "/api/v1/users/me/password"
	LogoutPath         = "/api/v1/logout"
)

// PasswordChangeExempt lists the routes RequirePasswordChanged must let through.
func PasswordChangeExempt() []string {
	return []string{CurrentUserPath, ChangePasswordPath, LogoutPath}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/token", h.Login, h.cfg.LoginMiddleware...)
	api.POST("/logout", h.Logout)
	api.GET("/current_user", h.CurrentUser)
	api.PUT("/users/me/password", h.ChangePassword)

	api.GET("/users/:id", h.GetUser)
	api.GET("/users/username/:username", h.GetUserByUsername)
	api.POST("/users/", h.CreateUser, auth.RequireAdmin())
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login request")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	u, tok, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return h.mapError(c, err)
	}

	h.setTokenCookie(c, tok)
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        tok.Value,
		TokenType:          "bearer",
		MustChangePassword: u.MustChangePassword,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	if h.cfg.Revocations != nil && claims.ID != "" && claims.ExpiresAt != nil {
		if err := h.cfg.Revocations.Revoke(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			h.cfg.Logger.Error().Err(err).Str("jti", claims.ID).Msg("failed to revoke token")
			return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication backend unavailable")
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) CurrentUser(c echo.Context) error {
	username := auth.UsernameFromContext(c.Request().Context())
	if username == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	u, err := h.svc.GetUserByUsername(c.Request().Context(), username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	username := auth.UsernameFromContext(c.Request().Context())
	if username == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tok, err := h.svc.ChangePassword(c.Request().Context(), username, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return h.mapError(c, err)
	}
	h.setTokenCookie(c, tok)
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: tok.Value, TokenType: "bearer"})
}

type createUserResponse struct {
	User     *User  `json:"user"`
	Password string `json:"password"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req NewUser
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, password, err := h.svc.CreateUser(c.Request().Context(), req)
	if err != nil {
		return h.mapError(c, err)
	}
	h.cfg.Logger.Info().Str("username", u.Username).Str("by", auth.UsernameFromContext(c.Request().Context())).Msg("user created")
	return c.JSON(http.StatusCreated, createUserResponse{User: u, Password: password})
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUserByUsername(c echo.Context) error {
	u, err := h.svc.GetUserByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) setTokenCookie(c echo.Context, tok *auth.Token) {
	c.SetCookie(&http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    tok.Value,
		Path:     "/",
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// mapError translates service errors. Locked accounts look exactly like bad
// credentials.
func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		h.cfg.Logger.Error().Err(err).Str("path", c.Path()).Msg("identity request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
