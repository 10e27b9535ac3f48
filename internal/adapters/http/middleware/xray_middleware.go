package middleware

import (
	"net/http"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
)

// XRayMiddleware opens one segment per request and records the request line
// and final status on it. The status decides error, throttle and fault flags,
// since errors are already rendered by the time they reach this middleware.
func XRayMiddleware(segmentName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx, seg := xray.BeginSegment(r.Context(), segmentName)
			seg.Lock()
			seg.GetHTTP().GetRequest().Method = r.Method
			seg.GetHTTP().GetRequest().URL = r.URL.Path
			seg.GetHTTP().GetRequest().UserAgent = r.UserAgent()
			seg.GetHTTP().GetRequest().ClientIP = c.RealIP()
			seg.Unlock()
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				_ = seg.AddAnnotation("request_id", rid)
			}

			c.SetRequest(r.WithContext(ctx))
			err := next(c)

			status := c.Response().Status
			seg.Lock()
			seg.GetHTTP().GetResponse().Status = status
			seg.Error = status >= 400 && status < 500
			seg.Throttle = status == http.StatusTooManyRequests
			seg.Fault = status >= 500
			seg.Unlock()
			seg.Close(err)
			return err
		}
	}
}
