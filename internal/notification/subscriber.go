package notification

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
)

// Subscriber receives notification events. Callbacks for one subscriber run
// sequentially on a dedicated goroutine, in the order the events happened, and
// may call back into the Service.
type Subscriber interface {
	OnConsume(n *Notification)
	OnCancel(n *Notification, reason RemoveReason)
}

// ConnectObserver is implemented by subscribers that want the connect event,
// delivered before any notification.
type ConnectObserver interface {
	OnConnect()
}

// DisconnectObserver is implemented by subscribers that want the disconnect
// event, delivered after everything enqueued before Unsubscribe.
type DisconnectObserver interface {
	OnDisconnect()
}

// DoNotDisturbObserver is implemented by subscribers that track the quiet period.
type DoNotDisturbObserver interface {
	OnDoNotDisturbDateChange(date DoNotDisturbDate)
}

// DiedObserver is implemented by subscribers that want to know when the
// service gave up on them because they fell too far behind.
type DiedObserver interface {
	OnDied()
}

// SubscriberFuncs adapts plain functions to Subscriber and the observer
// interfaces. Nil fields are skipped. Use it by pointer so it stays comparable.
type SubscriberFuncs struct {
	Consume            func(n *Notification)
	Cancel             func(n *Notification, reason RemoveReason)
	Connect            func()
	Disconnect         func()
	DoNotDisturbChange func(date DoNotDisturbDate)
	Died               func()
}

func (f *SubscriberFuncs) OnConsume(n *Notification) {
	if f.Consume != nil {
		f.Consume(n)
	}
}

func (f *SubscriberFuncs) OnCancel(n *Notification, reason RemoveReason) {
	if f.Cancel != nil {
		f.Cancel(n, reason)
	}
}

func (f *SubscriberFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

func (f *SubscriberFuncs) OnDisconnect() {
	if f.Disconnect != nil {
		f.Disconnect()
	}
}

func (f *SubscriberFuncs) OnDoNotDisturbDateChange(date DoNotDisturbDate) {
	if f.DoNotDisturbChange != nil {
		f.DoNotDisturbChange(date)
	}
}

func (f *SubscriberFuncs) OnDied() {
	if f.Died != nil {
		f.Died()
	}
}

// SubscribeInfo restricts a subscription to some bundles. Empty means all.
type SubscribeInfo struct {
	BundleNames []string `json:"bundleNames,omitempty"`
}

type bundleFilter map[string]struct{}

func newBundleFilter(info *SubscribeInfo) bundleFilter {
	if info == nil || len(info.BundleNames) == 0 {
		return nil
	}
	f := make(bundleFilter, len(info.BundleNames))
	for _, name := range info.BundleNames {
		f[name] = struct{}{}
	}
	return f
}

func (f bundleFilter) accepts(bundle string) bool {
	if f == nil {
		return true
	}
	_, ok := f[bundle]
	return ok
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventConsume
	eventCancel
	eventDoNotDisturb
	eventDisconnect
	eventDied
)

func (k eventKind) String() string {
	switch k {
	case eventConnect:
		return "connect"
	case eventConsume:
		return "consume"
	case eventCancel:
		return "cancel"
	case eventDoNotDisturb:
		return "do_not_disturb"
	case eventDisconnect:
		return "disconnect"
	case eventDied:
		return "died"
	default:
		return fmt.Sprintf("event_%d", int(k))
	}
}

func (k eventKind) terminal() bool {
	return k == eventDisconnect || k == eventDied
}

type subscriberEvent struct {
	kind         eventKind
	notification *Notification
	reason       RemoveReason
	dnd          DoNotDisturbDate
}

// subscription is the mailbox of one subscriber. Enqueue never blocks; a
// dispatcher goroutine drains the queue in order.
type subscription struct {
	id         string
	subscriber Subscriber
	filter     bundleFilter // guarded by the service lock
	maxPending int
	logger     logger.Logger

	mu     sync.Mutex
	queue  []subscriberEvent
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newSubscription(sub Subscriber, filter bundleFilter, maxPending int, log logger.Logger) *subscription {
	id := uuid.NewString()
	return &subscription{
		id:         id,
		subscriber: sub,
		filter:     filter,
		maxPending: maxPending,
		logger:     log.With(logger.String("subscription_id", id)),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// enqueue appends ev. It returns false when the subscription is closed or
// its backlog reached maxPending.
func (s *subscription) enqueue(ev subscriberEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.maxPending > 0 && len(s.queue) >= s.maxPending {
		return false
	}
	s.queue = append(s.queue, ev)
	s.wake()
	return true
}

// close enqueues the terminal event. With dropPending the backlog is discarded
// first. Later enqueues are refused.
func (s *subscription) close(kind eventKind, dropPending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if dropPending {
		s.queue = nil
	}
	s.queue = append(s.queue, subscriberEvent{kind: kind})
	s.wake()
}

func (s *subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// wake signals the dispatcher. Callers hold s.mu.
func (s *subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// run delivers events until the terminal one.
func (s *subscription) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.signal
			s.mu.Lock()
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for i, ev := range batch {
			s.deliver(ev)
			if ev.kind.terminal() {
				// Nothing follows a terminal event
				clear(batch[i:])
				return
			}
		}
		clear(batch)
	}
}

func (s *subscription) deliver(ev subscriberEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("subscriber panicked during %s: %v", ev.kind, r).
				Component("notification").
				Category(errors.CategorySubscriber).
				Context("subscription_id", s.id).
				Context("event", ev.kind.String()).
				Build()
			s.logger.Error("subscriber callback panicked",
				logger.Error(err),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	switch ev.kind {
	case eventConnect:
		if o, ok := s.subscriber.(ConnectObserver); ok {
			o.OnConnect()
		}
	case eventConsume:
		s.subscriber.OnConsume(ev.notification)
	case eventCancel:
		s.subscriber.OnCancel(ev.notification, ev.reason)
	case eventDoNotDisturb:
		if o, ok := s.subscriber.(DoNotDisturbObserver); ok {
			o.OnDoNotDisturbDateChange(ev.dnd)
		}
	case eventDisconnect:
		if o, ok := s.subscriber.(DisconnectObserver); ok {
			o.OnDisconnect()
		}
	case eventDied:
		if o, ok := s.subscriber.(DiedObserver); ok {
			o.OnDied()
		}
	}
}

// bundleNames returns the filter as a sorted list, nil for all bundles.
func (s *subscription) bundleNames() []string {
	if s.filter == nil {
		return nil
	}
	names := make([]string, 0, len(s.filter))
	for name := range s.filter {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
