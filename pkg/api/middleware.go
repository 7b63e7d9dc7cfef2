package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requireAuth enforces the configured bearer token with a constant-time
// comparison. With no token configured, authentication is disabled.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		token := s.settings.AuthToken
		if token == "" {
			return next(c)
		}

		header := c.Request().Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
		}
		return next(c)
	}
}
