package middleware

import (
	"github.com/labstack/echo/v4"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets the headers every API response carries. Responses
// hold lab results and must never be cached. HSTS is only sent when hsts is
// set, since development servers run over plain HTTP.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	headers := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Cache-Control", "no-store"},
	}
	if hsts {
		headers = append(headers, [2]string{"Strict-Transport-Security", hstsValue})
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range headers {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
