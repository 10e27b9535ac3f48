package middleware

import (
	"github.com/labstack/echo/v4"

	"carehub/internal/domain"
)

// RequestScope seeds the request context with an immutable scope carrying the
// request id assigned by echo's RequestID middleware.
func RequestScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			ctx := domain.WithScope(c.Request().Context(), domain.RequestScope{RequestID: rid})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
