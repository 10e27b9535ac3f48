package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"carehub/internal/ports"
)

// RequestLogger writes the response for a failed handler itself so the logged
// status is the one the client sees. duration may be nil.
func RequestLogger(logger ports.Logger, duration *prometheus.HistogramVec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(started)
			ctx := c.Request().Context()
			status := c.Response().Status
			logger.Info(ctx, "http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route_pattern", c.Path(),
				"status", status,
				"duration", elapsed.String(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			if duration != nil {
				duration.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Observe(elapsed.Seconds())
			}
			return nil
		}
	}
}
