package auth

import "github.com/labstack/echo/v4"

// publicPaths lists route paths that bypass authentication: infrastructure
// checks and the credential flows a caller uses before holding a token.
var publicPaths = map[string]bool{
	"/health":                      true,
	"/health/db":                   true,
	"/api/v1/auth/register":        true,
	"/api/v1/auth/login":           true,
	"/api/v1/auth/refresh":         true,
	"/api/v1/auth/logout":          true,
	"/api/v1/auth/forgot-password": true,
	"/api/v1/auth/reset-password":  true,
	"/api/v1/auth/verify-email":    true,
}

// IsPublicPath reports whether the given route path is reachable without a
// bearer token.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// SkipPublic wraps mw so that it is bypassed on public paths. It relies on
// c.Path(), so it must be attached to a group or route, not with e.Pre.
func SkipPublic(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		guarded := mw(next)
		return func(c echo.Context) error {
			if IsPublicPath(c.Path()) {
				return next(c)
			}
			return guarded(c)
		}
	}
}
