package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/openans/ansd/internal/logger"
)

// bearerTokenParts is the expected number of parts when splitting Authorization header.
const bearerTokenParts = 2

// Context keys for authentication values stored in echo.Context.
const (
	// CtxKeyIsAuthenticated indicates whether the request is authenticated.
	CtxKeyIsAuthenticated = "auth:isAuthenticated"
	// CtxKeyAuthMethod indicates the authentication method used.
	CtxKeyAuthMethod = "auth:authMethod"
)

// Auth outcome labels passed to the Recorder.
const (
	StatusSuccess = "success"
	StatusMissing = "missing"
	StatusInvalid = "invalid"
)

// Recorder counts authentication outcomes.
type Recorder interface {
	RecordAuth(status string)
}

// Middleware provides authentication middleware with the Service
type Middleware struct {
	AuthService Service
	recorder    Recorder
}

// NewMiddleware creates a new auth middleware. recorder may be nil.
func NewMiddleware(service Service, recorder Recorder) *Middleware {
	return &Middleware{
		AuthService: service,
		recorder:    recorder,
	}
}

// Authenticate is the main middleware function for authentication
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.AuthService == nil || !m.AuthService.IsAuthRequired() {
			c.Set(CtxKeyIsAuthenticated, true)
			c.Set(CtxKeyAuthMethod, AuthMethodNone)
			return next(c)
		}

		path := c.Request().URL.Path
		ip := c.RealIP()

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			m.record(StatusMissing)
			m.log().Debug("Authentication required but not provided",
				logger.String("path", path),
				logger.String("ip", ip))
			return m.unauthorized(c, `Bearer realm="ansd"`, "Authentication required")
		}

		parts := strings.SplitN(authHeader, " ", bearerTokenParts)
		if len(parts) != bearerTokenParts || !strings.EqualFold(parts[0], "bearer") {
			m.record(StatusInvalid)
			m.log().Warn("Malformed Authorization header",
				logger.String("path", path),
				logger.String("ip", ip))
			return m.unauthorized(c, `Bearer realm="ansd"`, "Invalid Authorization header")
		}

		if err := m.AuthService.ValidateToken(strings.TrimSpace(parts[1])); err != nil {
			m.record(StatusInvalid)
			m.log().Warn("Token validation failed",
				logger.String("path", path),
				logger.String("ip", ip))
			return m.unauthorized(c,
				`Bearer realm="ansd", error="invalid_token", error_description="Invalid or expired token"`,
				"Invalid or expired token")
		}

		m.record(StatusSuccess)
		c.Set(CtxKeyIsAuthenticated, true)
		c.Set(CtxKeyAuthMethod, AuthMethodToken)
		return next(c)
	}
}

func (m *Middleware) unauthorized(c echo.Context, challenge, message string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
	return echo.NewHTTPError(http.StatusUnauthorized, message)
}

func (m *Middleware) record(status string) {
	if m.recorder != nil {
		m.recorder.RecordAuth(status)
	}
}

// log returns the auth package logger.
func (m *Middleware) log() logger.Logger {
	return GetLogger()
}
