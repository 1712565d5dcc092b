package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
)

// ErrorResponse is the body of every failed API request. Code is the ANS
// result code, or 0 for transport level errors such as an unknown route.
type ErrorResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// statusForCode maps an ANS result code to the HTTP status returned for it.
func statusForCode(code notification.Code) int {
	switch code {
	case notification.CodeInvalidParam, notification.CodeInvalidBundle:
		return http.StatusBadRequest
	case notification.CodePictureOverSize:
		return http.StatusRequestEntityTooLarge
	case notification.CodeNotificationNotExists, notification.CodeSlotNotExist:
		return http.StatusNotFound
	case notification.CodeNotificationIsUnremovable:
		return http.StatusConflict
	case notification.CodeNotAllowed, notification.CodePermissionDenied, notification.CodeNonSystemApp:
		return http.StatusForbidden
	case notification.CodeOverMaxActivePerSecond:
		return http.StatusTooManyRequests
	case notification.CodeNoMemory:
		return http.StatusInsufficientStorage
	case notification.CodeServiceNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errMissingEnabled = errors.NewStd("enabled is required")

// invalidParam wraps a request parsing failure so it is answered like any
// other ErrInvalidParam.
func invalidParam(operation string, err error) error {
	return errors.New(fmt.Errorf("%w: %v", notification.ErrInvalidParam, err)).
		Component("api").
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Build()
}

// errorHandler writes ANS errors and echo HTTP errors as ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := s.describeError(err, c)

	if retry, ok := retryAfter(err); ok {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		s.log.Debug("failed to write error response", logger.Error(writeErr))
	}
}

func (s *Server) describeError(err error, c echo.Context) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Message: msg}
	}

	code := notification.CodeOf(err)
	status := statusForCode(code)
	if code == notification.CodeUnknown {
		code = 0
	}

	if s.httpMetrics != nil && code != 0 {
		s.httpMetrics.RecordHTTPRequestError(c.Request().Method, c.Path(), int64(code))
	}

	fields := []logger.Field{
		logger.String("method", c.Request().Method),
		logger.String("path", c.Path()),
		logger.Int("status", status),
		logger.Int64("code", int64(code)),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("API request failed", fields...)
	} else {
		s.log.Debug("API request failed", fields...)
	}

	return status, ErrorResponse{Code: int64(code), Message: err.Error()}
}

// overQuotaError carries the gate's retry hint with a rejected publish.
type overQuotaError struct {
	error
	retryAfter time.Duration
}

func (e *overQuotaError) Unwrap() error { return e.error }

// retryAfterSeconds rounds up so a client never retries before the window
// has room again.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func retryAfter(err error) (time.Duration, bool) {
	var oq *overQuotaError
	if errors.As(err, &oq) && oq.retryAfter > 0 {
		return oq.retryAfter, true
	}
	return 0, false
}
