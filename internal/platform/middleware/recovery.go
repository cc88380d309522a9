package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500. The panic is logged through the
// request-scoped logger when Logger has installed one, so the line carries the
// request_id. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				log := logger
				if l := zerolog.Ctx(c.Request().Context()); l.GetLevel() != zerolog.Disabled {
					log = *l
				}
				log.Error().
					Interface("panic", r).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
