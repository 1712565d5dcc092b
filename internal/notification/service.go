package notification

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
)

const (
	DefaultMaxActiveNotifications  = 1000
	DefaultCleanupInterval         = 30 * time.Second
	DefaultMaxPendingPerSubscriber = 1024
	DefaultMaxPictureBytes         = 2 << 20
)

// ServiceConfig holds the configuration of the notification service.
// Zero values are replaced by the defaults.
type ServiceConfig struct {
	// Debug enables debug logging for the service
	Debug bool
	// Admission configures the per-bundle publish gate
	Admission AdmissionConfig
	// MaxActiveNotifications caps the active notifications across all bundles
	MaxActiveNotifications int
	// CleanupInterval is how often auto-deleted notifications are removed
	CleanupInterval time.Duration
	// MaxPendingPerSubscriber is the backlog at which a subscriber is dropped
	MaxPendingPerSubscriber int
	// MaxPictureBytes limits picture content
	MaxPictureBytes int
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// DefaultServiceConfig returns a default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Admission:               DefaultAdmissionConfig(),
		MaxActiveNotifications:  DefaultMaxActiveNotifications,
		CleanupInterval:         DefaultCleanupInterval,
		MaxPendingPerSubscriber: DefaultMaxPendingPerSubscriber,
		MaxPictureBytes:         DefaultMaxPictureBytes,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if c.Admission == (AdmissionConfig{}) {
		c.Admission = def.Admission
	}
	if c.Admission.IdleTTL <= 0 {
		c.Admission.IdleTTL = DefaultAdmissionIdleTTL
	}
	if c.MaxActiveNotifications <= 0 {
		c.MaxActiveNotifications = def.MaxActiveNotifications
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.MaxPendingPerSubscriber <= 0 {
		c.MaxPendingPerSubscriber = def.MaxPendingPerSubscriber
	}
	if c.MaxPictureBytes <= 0 {
		c.MaxPictureBytes = def.MaxPictureBytes
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Option customizes a Service.
type Option func(*Service)

// WithActiveStore replaces the in-memory active notification store.
func WithActiveStore(store ActiveStore) Option {
	return func(s *Service) { s.active = store }
}

// WithPreferenceStore replaces the in-memory preference store.
func WithPreferenceStore(store PreferenceStore) Option {
	return func(s *Service) { s.prefs = store }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// PublishResult reports what happened to a publish request.
type PublishResult struct {
	Admitted bool     `json:"admitted"`
	HashCode string   `json:"hashCode"`
	Sequence uint64   `json:"sequence,omitempty"`
	Decision Decision `json:"-"`
}

// SubscriptionInfo describes a live subscription.
type SubscriptionInfo struct {
	ID          string   `json:"id"`
	BundleNames []string `json:"bundleNames,omitempty"`
	Pending     int      `json:"pending"`
}

// Service owns the active notifications, the subscribers and the
// preferences. One lock orders admission, storage and fan-out, so the order
// in which requests are admitted is the order every subscriber sees.
type Service struct {
	config  ServiceConfig
	gate    *AdmissionGate
	active  ActiveStore
	prefs   PreferenceStore
	metrics MetricsRecorder
	logger  logger.Logger
	now     func() time.Time

	mu            sync.Mutex
	subscriptions map[Subscriber]*subscription
	sequence      uint64
	stopped       bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dispatchers sync.WaitGroup
	stopOnce    sync.Once
}

// NewService creates the service and starts its cleanup worker.
func NewService(config *ServiceConfig, opts ...Option) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	cfg := config.withDefaults()
	if err := cfg.Admission.Validate(); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "new_service").
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		config:        cfg,
		gate:          NewAdmissionGate(cfg.Admission, cfg.Clock),
		active:        NewInMemoryStore(),
		prefs:         NewInMemoryPreferences(),
		metrics:       noopMetrics{},
		logger:        getLogger(),
		now:           cfg.Clock,
		subscriptions: make(map[Subscriber]*subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(service)
	}

	service.logger.Info("notification service initialized",
		logger.Int("admission_quota", cfg.Admission.Quota),
		logger.Duration("admission_window", cfg.Admission.Window),
		logger.String("admission_mode", string(cfg.Admission.Mode)),
		logger.String("overflow_policy", string(cfg.Admission.Policy)),
		logger.Int("max_active", cfg.MaxActiveNotifications),
		logger.Duration("cleanup_interval", cfg.CleanupInterval),
		logger.Bool("debug", cfg.Debug))

	service.wg.Add(1)
	go service.cleanupLoop()

	return service, nil
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// Publish posts a request on behalf of caller. Under the drop policy a
// request over quota is discarded and Publish still returns nil.
func (s *Service) Publish(ctx context.Context, caller BundleOption, req *Request) error {
	_, err := s.PublishWithResult(ctx, caller, req)
	return err
}

// PublishWithResult is Publish that also reports the admission decision.
func (s *Service) PublishWithResult(ctx context.Context, caller BundleOption, req *Request) (PublishResult, error) {
	const op = "publish"

	if err := ctx.Err(); err != nil {
		return PublishResult{}, contextError(err, op)
	}
	if err := s.validatePublish(caller, req); err != nil {
		return PublishResult{}, err
	}

	settings, err := s.prefs.GetBundleSettings(ctx, caller.Bundle)
	if err != nil {
		return PublishResult{}, prefError(err, op)
	}
	if !settings.NotificationEnabled {
		return PublishResult{}, serviceErrorf(ErrNotAllowed, op, "bundle %s", caller.Bundle).
			Context("bundle", caller.Bundle).
			Build()
	}

	slot, err := s.ensureSlot(ctx, caller.Bundle, req.SlotType.normalize())
	if err != nil {
		return PublishResult{}, err
	}

	n := &Notification{Request: req.Clone(), Slot: slot.Type}
	n.Request.SlotType = slot.Type
	n.Request.CreatorBundle = caller.Bundle
	n.Request.CreatorUID = caller.UID
	n.Request.HashCode = n.Key().HashCode()
	result := PublishResult{HashCode: n.Request.HashCode}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return result, serviceError(ErrServiceNotReady, op).Build()
	}

	// EnableNotification and SetDoNotDisturbDate write under s.mu, so these
	// reads see every change that returned before this publish took the lock.
	settings, err = s.prefs.GetBundleSettings(ctx, caller.Bundle)
	if err != nil {
		return result, prefError(err, op)
	}
	if !settings.NotificationEnabled {
		return result, serviceErrorf(ErrNotAllowed, op, "bundle %s", caller.Bundle).
			Context("bundle", caller.Bundle).
			Build()
	}
	dnd, err := s.prefs.GetDoNotDisturbDate(ctx)
	if err != nil {
		return result, prefError(err, op)
	}

	_, replacing := s.active.Get(n.Request.HashCode)
	if !replacing && s.active.Count(nil) >= s.config.MaxActiveNotifications {
		return result, serviceErrorf(ErrNoMemory, op, "limit %d reached", s.config.MaxActiveNotifications).
			Context("bundle", caller.Bundle).
			Build()
	}

	decision := s.gate.Admit(caller.Bundle)
	result.Decision = decision
	if !decision.Admitted {
		return result, s.overflowLocked(caller, n, decision)
	}

	now := s.now()
	s.sequence++
	n.Sequence = s.sequence
	n.PostedAt = now
	n.Silent = !slot.BypassDnd && dnd.ActiveAt(now)

	if err := s.active.Save(n); err != nil {
		return result, errors.New(err).
			Component("notification").
			Category(errors.CategorySystem).
			Context("operation", "save_notification").
			Build()
	}

	delivered := s.fanOutLocked(caller.Bundle, subscriberEvent{kind: eventConsume, notification: n})

	s.metrics.RecordAdmission(OutcomeAdmitted)
	s.metrics.SetActiveNotifications(s.active.Count(nil))

	if s.config.Debug {
		s.logger.Debug("notification published",
			logger.String("hash_code", n.Request.HashCode),
			logger.Uint64("sequence", n.Sequence),
			logger.Int("in_window", decision.InWindow),
			logger.Bool("replaced", replacing),
			logger.Bool("silent", n.Silent),
			logger.Int("subscribers", delivered))
	}

	result.Admitted = true
	result.Sequence = n.Sequence
	return result, nil
}

// overflowLocked applies the overflow policy to a request the gate refused.
func (s *Service) overflowLocked(caller BundleOption, n *Notification, decision Decision) error {
	fields := []logger.Field{
		logger.String("bundle", caller.Bundle),
		logger.Int("id", int(n.Request.ID)),
		logger.Int("in_window", decision.InWindow),
		logger.Duration("retry_after", decision.RetryAfter),
	}

	if s.config.Admission.Policy == PolicyReject {
		s.metrics.RecordAdmission(OutcomeRejected)
		s.logger.Debug("publish rejected over quota", fields...)
		return serviceErrorf(ErrOverMaxActivePerSecond, "publish", "%d per %s",
			s.config.Admission.Quota, s.config.Admission.Window).
			Context("bundle", caller.Bundle).
			Context("retry_after_ms", decision.RetryAfter.Milliseconds()).
			Build()
	}

	s.metrics.RecordAdmission(OutcomeDropped)
	s.logger.Info("publish dropped over quota", fields...)
	return nil
}

func (s *Service) validatePublish(caller BundleOption, req *Request) error {
	const op = "publish"

	if caller.Bundle == "" {
		return serviceError(ErrInvalidBundle, op).Build()
	}
	if req == nil {
		return serviceErrorf(ErrInvalidParam, op, "request is nil").Build()
	}
	if err := req.Content.validate(); err != nil {
		return serviceErrorf(ErrInvalidParam, op, "%v", err).
			Context("bundle", caller.Bundle).
			Build()
	}
	if !req.SlotType.Valid() {
		return serviceErrorf(ErrInvalidParam, op, "unknown slot type %d", int(req.SlotType)).Build()
	}
	if size := req.Content.pictureSize(); size > s.config.MaxPictureBytes {
		return serviceErrorf(ErrPictureOverSize, op, "%d bytes, limit %d", size, s.config.MaxPictureBytes).
			Context("bundle", caller.Bundle).
			Build()
	}
	return nil
}

// Cancel removes one of the caller's own notifications.
func (s *Service) Cancel(ctx context.Context, caller BundleOption, id int32, label string) error {
	const op = "cancel"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}
	if caller.Bundle == "" {
		return serviceError(ErrInvalidBundle, op).Build()
	}

	hash := Key{Bundle: caller.Bundle, UID: caller.UID, ID: id, Label: label}.HashCode()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}
	if !s.removeLocked(hash, ReasonAppCancel) {
		return serviceErrorf(ErrNotificationNotExists, op, "%s", hash).
			Context("hash_code", hash).
			Build()
	}
	return nil
}

// CancelAll removes every notification of the caller, unremovable ones included.
func (s *Service) CancelAll(ctx context.Context, caller BundleOption) error {
	const op = "cancel_all"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}
	if caller.Bundle == "" {
		return serviceError(ErrInvalidBundle, op).Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}
	s.removeMatchingLocked(&FilterOptions{Bundle: caller.Bundle, UID: caller.UID}, ReasonAppCancelAll)
	return nil
}

// Remove deletes a notification by hash code on behalf of the user.
func (s *Service) Remove(ctx context.Context, hashCode string) error {
	const op = "remove"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}
	if hashCode == "" {
		return serviceErrorf(ErrInvalidParam, op, "empty hash code").Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}

	n, ok := s.active.Get(hashCode)
	if !ok {
		return serviceErrorf(ErrNotificationNotExists, op, "%s", hashCode).
			Context("hash_code", hashCode).
			Build()
	}
	if n.Request.IsUnremovable {
		return serviceErrorf(ErrNotificationIsUnremovable, op, "%s", hashCode).
			Context("hash_code", hashCode).
			Build()
	}

	s.removeLocked(hashCode, ReasonCancelDelete)
	return nil
}

// RemoveByKey is Remove addressed by bundle, id and label.
func (s *Service) RemoveByKey(ctx context.Context, bundle BundleOption, id int32, label string) error {
	if bundle.Bundle == "" {
		return serviceError(ErrInvalidBundle, "remove").Build()
	}
	return s.Remove(ctx, Key{Bundle: bundle.Bundle, UID: bundle.UID, ID: id, Label: label}.HashCode())
}

// RemoveAll deletes every removable notification, or those of one bundle
// when bundle is not nil.
func (s *Service) RemoveAll(ctx context.Context, bundle *BundleOption) error {
	const op = "remove_all"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}

	filter := &FilterOptions{RemovableOnly: true}
	if bundle != nil {
		if bundle.Bundle == "" {
			return serviceError(ErrInvalidBundle, op).Build()
		}
		filter.Bundle = bundle.Bundle
		filter.UID = bundle.UID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}
	removed := s.removeMatchingLocked(filter, ReasonCancelAllDelete)

	if s.config.Debug {
		s.logger.Debug("removed notifications",
			logger.String("bundle", filter.Bundle),
			logger.Int("count", removed))
	}
	return nil
}

// GetActiveNotifications returns the caller's notifications in posting order.
func (s *Service) GetActiveNotifications(caller BundleOption) ([]*Notification, error) {
	if caller.Bundle == "" {
		return nil, serviceError(ErrInvalidBundle, "get_active").Build()
	}
	return s.active.List(&FilterOptions{Bundle: caller.Bundle, UID: caller.UID}), nil
}

// GetActiveNotificationCount returns the number of the caller's notifications.
func (s *Service) GetActiveNotificationCount(caller BundleOption) (int, error) {
	if caller.Bundle == "" {
		return 0, serviceError(ErrInvalidBundle, "get_active_count").Build()
	}
	return s.active.Count(&FilterOptions{Bundle: caller.Bundle, UID: caller.UID}), nil
}

// GetAllActiveNotifications returns every active notification in posting order.
func (s *Service) GetAllActiveNotifications() []*Notification {
	return s.active.List(nil)
}

// removeLocked deletes one notification and tells its subscribers.
func (s *Service) removeLocked(hashCode string, reason RemoveReason) bool {
	n, ok := s.active.Delete(hashCode)
	if !ok {
		return false
	}

	s.fanOutLocked(n.Request.CreatorBundle, subscriberEvent{kind: eventCancel, notification: n, reason: reason})
	s.metrics.RecordRemoval(reason)
	s.metrics.SetActiveNotifications(s.active.Count(nil))

	if s.config.Debug {
		s.logger.Debug("notification removed",
			logger.String("hash_code", hashCode),
			logger.String("reason", reason.String()))
	}
	return true
}

func (s *Service) removeMatchingLocked(filter *FilterOptions, reason RemoveReason) int {
	removed := 0
	for _, n := range s.active.List(filter) {
		if s.removeLocked(n.HashCode(), reason) {
			removed++
		}
	}
	return removed
}

// Subscribe registers sub for notifications of the bundles in info, or of
// every bundle when info is nil or empty. Subscribing an already subscribed
// value replaces its filter.
func (s *Service) Subscribe(ctx context.Context, sub Subscriber, info *SubscribeInfo) error {
	const op = "subscribe"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}
	if err := checkSubscriber(sub, op); err != nil {
		return err
	}

	filter := newBundleFilter(info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}

	if existing, ok := s.subscriptions[sub]; ok {
		existing.filter = filter
		s.logger.Debug("subscription filter updated",
			logger.String("subscription_id", existing.id),
			logger.Any("bundles", existing.bundleNames()))
		return nil
	}

	subscription := newSubscription(sub, filter, s.config.MaxPendingPerSubscriber, s.logger)
	subscription.enqueue(subscriberEvent{kind: eventConnect})
	s.subscriptions[sub] = subscription

	s.dispatchers.Add(1)
	go func() {
		defer s.dispatchers.Done()
		subscription.run()
	}()

	s.metrics.SetSubscribers(len(s.subscriptions))
	s.logger.Info("subscriber connected",
		logger.String("subscription_id", subscription.id),
		logger.Any("bundles", subscription.bundleNames()),
		logger.Int("subscribers", len(s.subscriptions)))
	return nil
}

// Unsubscribe removes sub. Events already queued for it are still delivered,
// followed by OnDisconnect.
func (s *Service) Unsubscribe(ctx context.Context, sub Subscriber) error {
	const op = "unsubscribe"

	if err := ctx.Err(); err != nil {
		return contextError(err, op)
	}
	if err := checkSubscriber(sub, op); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subscription, ok := s.subscriptions[sub]
	if !ok {
		return serviceErrorf(ErrInvalidParam, op, "subscriber is not subscribed").Build()
	}

	delete(s.subscriptions, sub)
	subscription.close(eventDisconnect, false)

	s.metrics.SetSubscribers(len(s.subscriptions))
	s.logger.Info("subscriber disconnected",
		logger.String("subscription_id", subscription.id),
		logger.Int("subscribers", len(s.subscriptions)))
	return nil
}

// Subscriptions lists the live subscriptions.
func (s *Service) Subscriptions() []SubscriptionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SubscriptionInfo, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, SubscriptionInfo{
			ID:          sub.id,
			BundleNames: sub.bundleNames(),
			Pending:     sub.pending(),
		})
	}
	return out
}

func checkSubscriber(sub Subscriber, op string) error {
	if sub == nil {
		return serviceErrorf(ErrInvalidParam, op, "subscriber is nil").Build()
	}
	if !reflect.TypeOf(sub).Comparable() {
		return serviceErrorf(ErrInvalidParam, op, "subscriber type %T is not comparable", sub).Build()
	}
	return nil
}

// fanOutLocked enqueues ev for every subscriber whose filter accepts bundle
// and returns how many were reached. Subscribers over their backlog limit are
// dropped.
func (s *Service) fanOutLocked(bundle string, ev subscriberEvent) int {
	reached := 0
	for key, sub := range s.subscriptions {
		if !sub.filter.accepts(bundle) {
			continue
		}
		out := ev
		if ev.notification != nil {
			out.notification = ev.notification.Clone()
		}
		if sub.enqueue(out) {
			reached++
			continue
		}
		s.dropSubscriberLocked(key, sub)
	}
	return reached
}

// broadcastLocked enqueues ev for every subscriber regardless of filter.
func (s *Service) broadcastLocked(ev subscriberEvent) {
	for key, sub := range s.subscriptions {
		if !sub.enqueue(ev) {
			s.dropSubscriberLocked(key, sub)
		}
	}
}

func (s *Service) dropSubscriberLocked(key Subscriber, sub *subscription) {
	delete(s.subscriptions, key)
	sub.close(eventDied, true)

	s.metrics.RecordSubscriberDied()
	s.metrics.SetSubscribers(len(s.subscriptions))

	err := errors.Newf("subscriber backlog exceeded %d events", s.config.MaxPendingPerSubscriber).
		Component("notification").
		Category(errors.CategorySubscriber).
		Context("subscription_id", sub.id).
		Build()
	s.logger.Warn("dropping slow subscriber",
		logger.Error(err),
		logger.String("subscription_id", sub.id))
}

// cleanupLoop periodically removes notifications past their auto-delete time
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performCleanup()
			s.gate.Sweep()
		case <-s.ctx.Done():
			if s.config.Debug {
				s.logger.Debug("notification cleanup loop shutting down")
			}
			return
		}
	}
}

// performCleanup runs one auto-delete pass and returns the number removed.
func (s *Service) performCleanup() int {
	expired := s.active.Expired(s.now())
	if len(expired) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, n := range expired {
		// Skip records replaced since the scan
		current, ok := s.active.Get(n.HashCode())
		if !ok || current.Sequence != n.Sequence {
			continue
		}
		if s.removeLocked(n.HashCode(), ReasonCancelDelete) {
			removed++
		}
	}

	if s.config.Debug && removed > 0 {
		s.logger.Debug("auto-deleted notifications", logger.Int("count", removed))
	}
	return removed
}

// Stop disconnects every subscriber and waits for their queues to drain.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("notification service shutting down")

		s.mu.Lock()
		s.stopped = true
		count := len(s.subscriptions)
		for key, sub := range s.subscriptions {
			sub.close(eventDisconnect, false)
			delete(s.subscriptions, key)
		}
		s.metrics.SetSubscribers(0)
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.dispatchers.Wait()

		s.logger.Info("notification service stopped",
			logger.Int("subscribers_disconnected", count))
	})
}

func contextError(err error, op string) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryCancellation).
		Context("operation", op).
		Build()
}

func prefError(err error, op string) error {
	return serviceErrorf(ErrPreferencesDBFailed, op, "%v", err).Build()
}
