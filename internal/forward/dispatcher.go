package forward

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
)

// Delivery status label values.
const (
	statusSuccess     = "success"
	statusError       = "error"
	statusTimeout     = "timeout"
	statusCircuitOpen = "circuit_open"
	statusDropped     = "dropped"
)

// Config is the delivery policy of one dispatcher.
type Config struct {
	QueueSize      int           // events buffered before new ones are dropped
	MaxRetries     int           // retries after the first attempt
	RetryDelay     time.Duration // delay before the first retry, doubled per retry
	MaxRetryDelay  time.Duration // cap for the doubled delay
	Timeout        time.Duration // per attempt, zero disables
	CircuitBreaker CircuitBreakerConfig
	Bundles        []string // empty forwards every bundle
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		MaxRetryDelay:  30 * time.Second,
		Timeout:        30 * time.Second,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// Dispatcher is a notification subscriber that forwards events to one
// provider. Callbacks only enqueue; a single worker goroutine delivers in
// order so a slow provider never stalls the notification service.
type Dispatcher struct {
	provider Provider
	name     string
	config   Config
	breaker  *CircuitBreaker
	metrics  Metrics
	log      logger.Logger

	queue  chan *Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	died    chan struct{}
}

// NewDispatcher creates a dispatcher for provider. metrics may be nil.
func NewDispatcher(provider Provider, config Config, metrics Metrics) *Dispatcher {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = def.MaxRetryDelay
	}
	if config.CircuitBreaker.MaxFailures <= 0 {
		config.CircuitBreaker = def.CircuitBreaker
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	name := provider.Name()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		provider: provider,
		name:     name,
		config:   config,
		breaker:  NewCircuitBreaker(config.CircuitBreaker, metrics, name),
		metrics:  metrics,
		log:      getLogger().With(logger.String("provider", name)),
		queue:    make(chan *Event, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		died:     make(chan struct{}),
	}
}

// Name returns the provider name.
func (d *Dispatcher) Name() string { return d.name }

// Breaker returns the provider's circuit breaker.
func (d *Dispatcher) Breaker() *CircuitBreaker { return d.breaker }

// SubscribeInfo returns the bundle filter to subscribe with.
func (d *Dispatcher) SubscribeInfo() *notification.SubscribeInfo {
	if len(d.config.Bundles) == 0 {
		return nil
	}
	return &notification.SubscribeInfo{BundleNames: d.config.Bundles}
}

// Start launches the delivery worker. It is a no-op after the first call.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	d.wg.Add(1)
	go d.run()
	d.log.Info("Forwarder started",
		logger.Int("queue_size", d.config.QueueSize),
		logger.Any("bundles", d.config.Bundles))
}

// Stop cancels in-flight deliveries, waits for the worker and closes the
// provider. Queued events are discarded.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	if dropped := len(d.queue); dropped > 0 {
		d.log.Warn("Discarding queued events on stop", logger.Int("events", dropped))
	}
	return d.provider.Close()
}

// Died returns a channel closed when the notification service drops this
// dispatcher. Call it again after resubscribing to get a fresh channel.
func (d *Dispatcher) Died() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.died
}

// OnConsume implements notification.Subscriber.
func (d *Dispatcher) OnConsume(n *notification.Notification) {
	d.enqueue(ConsumeEvent(n))
}

// OnCancel implements notification.Subscriber.
func (d *Dispatcher) OnCancel(n *notification.Notification, reason notification.RemoveReason) {
	d.enqueue(CancelEvent(n, reason))
}

// OnDoNotDisturbDateChange implements notification.DoNotDisturbObserver.
func (d *Dispatcher) OnDoNotDisturbDateChange(date notification.DoNotDisturbDate) {
	d.enqueue(DoNotDisturbEvent(date))
}

// OnDied implements notification.DiedObserver.
func (d *Dispatcher) OnDied() {
	d.log.Warn("Forwarder dropped by the notification service for falling behind")

	d.mu.Lock()
	close(d.died)
	d.died = make(chan struct{})
	d.mu.Unlock()
}

// enqueue never blocks. A full queue drops the event.
func (d *Dispatcher) enqueue(ev *Event) {
	select {
	case d.queue <- ev:
		d.metrics.SetQueueDepth(d.name, len(d.queue))
	default:
		d.metrics.RecordDelivery(d.name, string(ev.Kind), statusDropped, 0)
		d.log.Warn("Forward queue full, dropping event",
			logger.String("kind", string(ev.Kind)),
			logger.String("bundle", ev.Bundle))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.queue:
			d.metrics.SetQueueDepth(d.name, len(d.queue))
			d.deliver(ev)
		}
	}
}

// deliver sends ev with retries and exponential backoff.
func (d *Dispatcher) deliver(ev *Event) {
	kind := string(ev.Kind)

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := d.attemptContext()
		start := time.Now()
		err := d.breaker.Call(attemptCtx, func(ctx context.Context) error {
			return d.provider.Send(ctx, ev)
		})
		duration := time.Since(start)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		switch {
		case err == nil:
			if attempt > 1 {
				d.metrics.RecordRetrySuccess(d.name)
			}
			d.metrics.RecordDelivery(d.name, kind, statusSuccess, duration)
			d.log.Debug("Event forwarded",
				logger.String("kind", kind),
				logger.String("event_id", ev.ID),
				logger.Int("attempt", attempt),
				logger.Duration("elapsed", duration))
			return
		case errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests):
			d.metrics.RecordDelivery(d.name, kind, statusCircuitOpen, duration)
			d.log.Warn("Event blocked by circuit breaker", logger.String("event_id", ev.ID))
			return
		case timedOut:
			d.metrics.RecordDelivery(d.name, kind, statusTimeout, duration)
			d.metrics.RecordTimeout(d.name)
			d.metrics.RecordDeliveryError(d.name, kind, "timeout")
		default:
			d.metrics.RecordDelivery(d.name, kind, statusError, duration)
			d.metrics.RecordDeliveryError(d.name, kind, categorizeError(err))
		}

		if d.ctx.Err() != nil {
			return
		}

		retryable := true
		var perr *ProviderError
		if errors.As(err, &perr) {
			retryable = perr.Retryable
		}
		if !retryable || attempt > d.config.MaxRetries {
			d.log.Error("Forwarding failed",
				logger.String("kind", kind),
				logger.String("event_id", ev.ID),
				logger.Int("attempts", attempt),
				logger.Bool("retryable", retryable),
				logger.Error(err))
			return
		}

		d.metrics.RecordRetryAttempt(d.name)
		timer := time.NewTimer(d.backoff(attempt))
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) attemptContext() (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(d.ctx, d.config.Timeout)
	}
	return context.WithCancel(d.ctx)
}

// backoff returns the delay after the given failed attempt.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.RetryDelay
	for i := 1; i < attempt && delay < d.config.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, d.config.MaxRetryDelay)
}

// categorizeError maps a delivery error to a low cardinality label.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.GetCategory() != string(errors.CategoryGeneric) {
		return ee.GetCategory()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case containsAny(msg, "network", "connection", "dial", "lookup", "broker"):
		return "network"
	case containsAny(msg, "validation", "invalid", "malformed"):
		return "validation"
	case containsAny(msg, "permission", "unauthorized", "forbidden", "status 401", "status 403"):
		return "permission"
	case containsAny(msg, "not found", "status 404"):
		return "not_found"
	default:
		return "provider_error"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
