package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are route templates reachable without a token: login and the
// infrastructure endpoints.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/metrics":      true,
	"/api/v1/token": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

