package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	"github.com/openans/ansd/internal/api/auth"
	mw "github.com/openans/ansd/internal/api/middleware"
	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
	"github.com/openans/ansd/internal/observability"
	"github.com/openans/ansd/internal/observability/metrics"
)

// APIPrefix is the path prefix of every JSON route.
const APIPrefix = "/api/v1"

// Server is the HTTP server for ansd.
// It manages the Echo framework instance, middleware, and all HTTP routes.
type Server struct {
	echo    *echo.Echo
	config  *Config
	service *notification.Service
	log     logger.Logger

	metrics     *observability.Metrics
	httpMetrics *metrics.HTTPMetrics

	authService auth.Service

	// closing is closed when Serve begins shutting down, ending open streams
	closing   chan struct{}
	streamsMu sync.Mutex
	shutdown  bool // guarded by streamsMu
	streams   sync.WaitGroup

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics sets the observability metrics for the server. /metrics is
// only served when metrics are set.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
		if m != nil {
			s.httpMetrics = m.HTTP
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithAuthService replaces the token service built from the configuration.
func WithAuthService(svc auth.Service) ServerOption {
	return func(s *Server) {
		s.authService = svc
	}
}

// New creates a new HTTP server for service.
func New(config *Config, service *notification.Service, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}

	s := &Server{
		config:    config,
		service:   service,
		closing:   make(chan struct{}),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = GetLogger()
	}
	if s.authService == nil {
		tokens, err := auth.NewTokenService(config.AuthTokenHash)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize authentication: %w", err)
		}
		s.authService = tokens
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.Int("max_connections", config.MaxConnections),
		logger.Bool("auth", s.authService.IsAuthRequired()))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	if s.httpMetrics != nil {
		s.echo.Use(mw.NewRequestMetrics(s.httpMetrics))
	}
	s.echo.Use(mw.NewRequestLogger(s.log))
	s.echo.Use(mw.NewCORS(mw.DefaultSecurityConfig()))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	var recorder auth.Recorder
	if s.httpMetrics != nil {
		recorder = s.httpMetrics
	}
	authMiddleware := auth.NewMiddleware(s.authService, recorder)

	g := s.echo.Group(APIPrefix, authMiddleware.Authenticate)

	bundles := g.Group("/bundles/:bundle")
	bundles.POST("/notifications", s.publish)
	bundles.GET("/notifications", s.getActiveNotifications)
	bundles.GET("/notifications/count", s.getActiveNotificationCount)
	bundles.DELETE("/notifications", s.cancelAll)
	bundles.DELETE("/notifications/:id", s.cancel)

	bundles.GET("/slots", s.getSlots)
	bundles.POST("/slots", s.addSlot)
	bundles.GET("/slots/count", s.getSlotNum)
	bundles.GET("/slots/:type", s.getSlot)
	bundles.PUT("/slots/:type", s.setSlot)
	bundles.DELETE("/slots/:type", s.removeSlot)
	bundles.DELETE("/slots", s.removeAllSlots)

	bundles.GET("/badge", s.isBadgeDisplayed)
	bundles.PUT("/badge", s.displayBadge)
	bundles.GET("/enabled", s.isNotificationEnabled)
	bundles.PUT("/enabled", s.enableNotification)

	g.GET("/notifications", s.getAllActiveNotifications)
	g.DELETE("/notifications", s.removeAll)
	g.DELETE("/notifications/:hash", s.remove)

	g.GET("/dnd", s.getDoNotDisturbDate)
	g.PUT("/dnd", s.setDoNotDisturbDate)

	g.GET("/subscriptions", s.getSubscriptions)
	g.GET("/stream", s.stream)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"notifications":  len(s.service.GetAllActiveNotifications()),
		"subscribers":    len(s.service.Subscriptions()),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
// Open event streams are ended before the HTTP server waits for requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		// No WriteTimeout: streams are long lived, each event gets its own deadline
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	s.closeStreams()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP server shutdown error", logger.Error(err))
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	return nil
}

// trackStream registers an event stream. It returns false once shutdown began.
func (s *Server) trackStream() bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.shutdown {
		return false
	}
	s.streams.Add(1)
	return true
}

// closeStreams ends every open event stream and waits for them to unsubscribe.
func (s *Server) closeStreams() {
	s.streamsMu.Lock()
	if !s.shutdown {
		s.shutdown = true
		close(s.closing)
	}
	s.streamsMu.Unlock()
	s.streams.Wait()
}
