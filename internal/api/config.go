// Package api serves the notification service over HTTP: the JSON API under
// /api/v1, a Server-Sent Events stream of subscriber events, /healthz and
// /metrics.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSSEHeartbeat    = 15 * time.Second
	DefaultSSEWriteTimeout = 10 * time.Second
	DefaultBodyLimit       = "4M"

	// jsonOverheadBytes covers the non-picture part of a publish body.
	jsonOverheadBytes = 64 << 10
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string // host:port
	MaxConnections int    // 0 disables the cap

	AuthTokenHash string // bcrypt hash of the bearer token, empty disables auth

	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SSEHeartbeat    time.Duration // heartbeat event interval on streams
	SSEWriteTimeout time.Duration // deadline for writing one stream event

	BodyLimit string // echo body limit, e.g. "4M"

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		SSEHeartbeat:    DefaultSSEHeartbeat,
		SSEWriteTimeout: DefaultSSEWriteTimeout,
		BodyLimit:       DefaultBodyLimit,
	}
}

// ConfigFromSettings builds a Config from the application settings. The
// body limit leaves room for a base64 encoded picture of the configured
// maximum size.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}

	http := settings.HTTP
	if http.Listen != "" {
		cfg.Listen = http.Listen
	}
	cfg.MaxConnections = http.MaxConnections
	cfg.AuthTokenHash = http.AuthTokenHash
	if http.ReadTimeout > 0 {
		cfg.ReadTimeout = http.ReadTimeout
	}
	if http.SSEHeartbeat > 0 {
		cfg.SSEHeartbeat = http.SSEHeartbeat
	}
	if picture := settings.Notification.MaxPictureBytes; picture > 0 {
		encoded := (picture + 2) / 3 * 4
		cfg.BodyLimit = fmt.Sprintf("%dK", (encoded+jsonOverheadBytes)/1024+1)
	}
	cfg.Debug = settings.Debug

	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.SSEHeartbeat <= 0 {
		return fmt.Errorf("SSE heartbeat must be positive, got %s", c.SSEHeartbeat)
	}
	if c.SSEWriteTimeout <= 0 {
		return fmt.Errorf("SSE write timeout must be positive, got %s", c.SSEWriteTimeout)
	}
	return nil
}
