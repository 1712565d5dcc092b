package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, sizeBytes int64)
}

// unmatchedRoute labels requests that hit no route, so raw URLs never become
// label values.
const unmatchedRoute = "unmatched"

// NewRequestMetrics records method, route template, status, latency and
// response size for every request.
func NewRequestMetrics(recorder RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if recorder == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = unmatchedRoute
			}
			res := c.Response()
			recorder.RecordHTTPRequest(c.Request().Method, path, res.Status, time.Since(start), res.Size)
			return nil
		}
	}
}
