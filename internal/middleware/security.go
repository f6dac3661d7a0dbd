package middleware

import (
	"github.com/labstack/echo/v4"

	"simpleproxy-go/internal/service"
)

// SecurityHeaders returns an Echo middleware that scrubs hop-by-hop headers
// from inbound requests before any handler sees them, and adds security
// headers to responses served by the proxy itself.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			service.RemoveHopByHop(c.Request().Header)

			// Before next: the handler commits the response headers, so
			// anything set afterwards is never sent.
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}
