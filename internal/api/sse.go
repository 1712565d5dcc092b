package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
	"github.com/openans/ansd/internal/observability/metrics"
)

// Stream event names.
const (
	EventConnected    = "connected"
	EventConsume      = "consume"
	EventCancel       = "cancel"
	EventDoNotDisturb = "dnd"
	EventHeartbeat    = "heartbeat"
	EventDied         = "died"
)

// streamBuffer is how many events a stream holds before the subscriber
// callback blocks. Beyond it the service backlog grows until the subscriber
// is dropped.
const streamBuffer = 64

// ConnectedEvent is the first event on every stream.
type ConnectedEvent struct {
	ClientID string   `json:"clientId"`
	Bundles  []string `json:"bundles,omitempty"`
}

// ConsumeEvent carries a delivered notification.
type ConsumeEvent struct {
	Notification *notification.Notification `json:"notification"`
}

// CancelEvent carries a removed notification and why it was removed.
type CancelEvent struct {
	Notification *notification.Notification `json:"notification"`
	Reason       notification.RemoveReason  `json:"reason"`
	ReasonName   string                     `json:"reasonName"`
}

type streamEvent struct {
	name string
	data any
}

// streamBundles accepts repeated and comma separated bundle parameters.
func streamBundles(values []string) []string {
	var bundles []string
	for _, v := range values {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				bundles = append(bundles, name)
			}
		}
	}
	return bundles
}

// stream handles GET /stream?bundle=.. as a Server-Sent Events subscription.
func (s *Server) stream(c echo.Context) error {
	if !s.trackStream() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}
	defer s.streams.Done()

	ctx := c.Request().Context()
	bundles := streamBundles(c.QueryParams()["bundle"])
	clientID := uuid.NewString()
	log := s.log.With(logger.String("client_id", clientID))

	events := make(chan streamEvent, streamBuffer)
	done := make(chan struct{})
	died := make(chan struct{})
	var diedOnce sync.Once

	push := func(ev streamEvent) {
		select {
		case events <- ev:
		case <-done:
		}
	}
	sub := &notification.SubscriberFuncs{
		Consume: func(n *notification.Notification) {
			push(streamEvent{name: EventConsume, data: ConsumeEvent{Notification: n}})
		},
		Cancel: func(n *notification.Notification, reason notification.RemoveReason) {
			push(streamEvent{name: EventCancel, data: CancelEvent{
				Notification: n,
				Reason:       reason,
				ReasonName:   reason.String(),
			}})
		},
		DoNotDisturbChange: func(date notification.DoNotDisturbDate) {
			push(streamEvent{name: EventDoNotDisturb, data: date})
		},
		Died: func() {
			diedOnce.Do(func() { close(died) })
		},
	}

	if err := s.service.Subscribe(ctx, sub, &notification.SubscribeInfo{BundleNames: bundles}); err != nil {
		return err
	}

	start := time.Now()
	closeReason := metrics.SSECloseReasonClosed
	if s.httpMetrics != nil {
		s.httpMetrics.SSEConnectionStarted()
	}

	defer func() {
		close(done)

		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		// A dropped subscriber is already gone
		if err := s.service.Unsubscribe(unsubCtx, sub); err != nil && closeReason != metrics.SSECloseReasonDied {
			log.Debug("stream unsubscribe failed", logger.Error(err))
		}

		if s.httpMetrics != nil {
			s.httpMetrics.SSEConnectionClosed(time.Since(start), closeReason)
		}
		log.Info("stream closed",
			logger.String("reason", closeReason),
			logger.Duration("duration", time.Since(start)))
	}()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if err := s.sendEvent(c, EventConnected, ConnectedEvent{ClientID: clientID, Bundles: bundles}); err != nil {
		closeReason = metrics.SSECloseReasonError
		return nil
	}
	log.Info("stream opened",
		logger.String("ip", c.RealIP()),
		logger.Any("bundles", bundles))

	ticker := time.NewTicker(s.config.SSEHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := s.sendEvent(c, ev.name, ev.data); err != nil {
				log.Debug("stream write failed", logger.String("event", ev.name), logger.Error(err))
				closeReason = metrics.SSECloseReasonError
				return nil
			}

		case <-ticker.C:
			if err := s.sendEvent(c, EventHeartbeat, map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				closeReason = metrics.SSECloseReasonError
				return nil
			}

		case <-died:
			closeReason = metrics.SSECloseReasonDied
			log.Warn("stream subscriber dropped for falling behind")
			if err := s.sendEvent(c, EventDied, map[string]string{
				"message": "subscriber fell too far behind and was dropped",
			}); err != nil {
				log.Debug("stream write failed", logger.String("event", EventDied), logger.Error(err))
			}
			return nil

		case <-s.closing:
			closeReason = metrics.SSECloseReasonCanceled
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// sendEvent writes one event and flushes it. The write deadline is set per
// event and cleared afterwards, so an idle stream never times out.
func (s *Server) sendEvent(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		if s.httpMetrics != nil {
			s.httpMetrics.RecordSSEError("encode_failed")
		}
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(c.Response().Writer)
	// Not every writer supports deadlines; the write still goes ahead
	_ = rc.SetWriteDeadline(time.Now().Add(s.config.SSEWriteTimeout))
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprintf(c.Response(), "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), event, payload); err != nil {
		if s.httpMetrics != nil {
			s.httpMetrics.RecordSSEError("send_failed")
		}
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	if err := rc.Flush(); err != nil {
		if s.httpMetrics != nil {
			s.httpMetrics.RecordSSEError("send_failed")
		}
		return fmt.Errorf("failed to flush SSE message: %w", err)
	}

	if s.httpMetrics != nil && event != EventDied {
		s.httpMetrics.RecordSSEMessageSent(event)
	}
	return nil
}
