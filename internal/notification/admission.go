package notification

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// WindowMode selects how the admission window resets.
type WindowMode string

const (
	// WindowSliding admits a request when fewer than Quota requests were
	// admitted in the trailing Window.
	WindowSliding WindowMode = "sliding"
	// WindowFixed counts admissions in consecutive Window-long buckets that
	// start at the first request after the previous bucket closed.
	WindowFixed WindowMode = "fixed"
)

// OverflowPolicy decides what Publish reports for a request over quota.
type OverflowPolicy string

const (
	// PolicyDrop discards the request and reports success to the publisher.
	PolicyDrop OverflowPolicy = "drop"
	// PolicyReject discards the request and returns ErrOverMaxActivePerSecond.
	PolicyReject OverflowPolicy = "reject"
)

const (
	DefaultAdmissionQuota   = 10
	DefaultAdmissionWindow  = time.Second
	DefaultAdmissionIdleTTL = 5 * time.Minute
)

// Admission outcomes, used as metric labels.
const (
	OutcomeAdmitted = "admitted"
	OutcomeDropped  = "dropped"
	OutcomeRejected = "rejected"
)

// AdmissionConfig configures the per-bundle publish gate.
type AdmissionConfig struct {
	Quota  int            // requests admitted per window per bundle
	Window time.Duration  // window length
	Mode   WindowMode     // sliding or fixed
	Policy OverflowPolicy // drop or reject
	// IdleTTL evicts the state of bundles that stopped publishing. It is
	// raised to at least two windows.
	IdleTTL time.Duration
}

// DefaultAdmissionConfig returns 10 requests per second, sliding, silent drop.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		Quota:   DefaultAdmissionQuota,
		Window:  DefaultAdmissionWindow,
		Mode:    WindowSliding,
		Policy:  PolicyDrop,
		IdleTTL: DefaultAdmissionIdleTTL,
	}
}

// Validate checks the configuration.
func (c AdmissionConfig) Validate() error {
	if c.Quota <= 0 {
		return fmt.Errorf("admission quota must be positive, got %d", c.Quota)
	}
	if c.Window <= 0 {
		return fmt.Errorf("admission window must be positive, got %s", c.Window)
	}
	switch c.Mode {
	case WindowSliding, WindowFixed:
	default:
		return fmt.Errorf("unknown admission window mode %q", c.Mode)
	}
	switch c.Policy {
	case PolicyDrop, PolicyReject:
	default:
		return fmt.Errorf("unknown admission overflow policy %q", c.Policy)
	}
	return nil
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Admitted   bool
	InWindow   int           // admissions counted in the current window, this one included
	RetryAfter time.Duration // when the next admission becomes possible; zero if admitted
}

// windowLimiter is the per-bundle state. Callers hold the gate lock.
type windowLimiter interface {
	admit(now time.Time) Decision
}

// slidingWindow keeps the timestamps of admissions inside the trailing window.
type slidingWindow struct {
	window time.Duration
	quota  int
	events []time.Time
}

func newSlidingWindow(window time.Duration, quota int) *slidingWindow {
	return &slidingWindow{
		window: window,
		quota:  quota,
		events: make([]time.Time, 0, quota),
	}
}

func (w *slidingWindow) admit(now time.Time) Decision {
	cutoff := now.Add(-w.window)

	// Drop events outside the window, reusing the slice
	valid := 0
	for _, ev := range w.events {
		if ev.After(cutoff) {
			w.events[valid] = ev
			valid++
		}
	}
	w.events = w.events[:valid]

	if len(w.events) >= w.quota {
		return Decision{
			InWindow:   len(w.events),
			RetryAfter: w.events[0].Add(w.window).Sub(now),
		}
	}

	w.events = append(w.events, now)
	return Decision{Admitted: true, InWindow: len(w.events)}
}

// fixedWindow counts admissions in a bucket that hard-resets when it expires.
type fixedWindow struct {
	window time.Duration
	quota  int
	start  time.Time
	count  int
}

func (w *fixedWindow) admit(now time.Time) Decision {
	if w.start.IsZero() || !now.Before(w.start.Add(w.window)) {
		w.start = now
		w.count = 0
	}

	if w.count >= w.quota {
		return Decision{
			InWindow:   w.count,
			RetryAfter: w.start.Add(w.window).Sub(now),
		}
	}

	w.count++
	return Decision{Admitted: true, InWindow: w.count}
}

// AdmissionGate applies the quota independently per bundle. Decisions are
// serialized, so concurrent callers are admitted in the order they reach Admit.
type AdmissionGate struct {
	config   AdmissionConfig
	now      func() time.Time
	idle     time.Duration
	mu       sync.Mutex
	limiters *cache.Cache // bundle -> *gateEntry
}

// gateEntry is the state of one bundle. lastSeen is read from the gate's
// clock, so idle eviction follows the same time source as admission.
type gateEntry struct {
	limiter  windowLimiter
	lastSeen time.Time
}

// NewAdmissionGate creates a gate. A nil clock means time.Now.
func NewAdmissionGate(config AdmissionConfig, clock func() time.Time) *AdmissionGate {
	if clock == nil {
		clock = time.Now
	}
	return &AdmissionGate{
		config: config,
		now:    clock,
		idle:   max(config.IdleTTL, 2*config.Window),
		// Entries never expire on their own; Sweep evicts them
		limiters: cache.New(cache.NoExpiration, 0),
	}
}

// Config returns the gate configuration.
func (g *AdmissionGate) Config() AdmissionConfig {
	return g.config
}

// Admit records one request from bundle and reports whether it fits the quota.
func (g *AdmissionGate) Admit(bundle string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	entry := g.entryLocked(bundle)
	entry.lastSeen = now
	return entry.limiter.admit(now)
}

// Reset forgets the state of one bundle.
func (g *AdmissionGate) Reset(bundle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters.Delete(bundle)
}

// Sweep evicts bundles idle for longer than the idle TTL and returns how
// many it removed. The service cleanup loop calls it.
func (g *AdmissionGate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.idle)
	evicted := 0
	for bundle, item := range g.limiters.Items() {
		entry, ok := item.Object.(*gateEntry)
		if !ok || entry.lastSeen.Before(cutoff) {
			g.limiters.Delete(bundle)
			evicted++
		}
	}
	return evicted
}

// TrackedBundles returns the number of bundles with live admission state.
func (g *AdmissionGate) TrackedBundles() int {
	return g.limiters.ItemCount()
}

func (g *AdmissionGate) entryLocked(bundle string) *gateEntry {
	if v, ok := g.limiters.Get(bundle); ok {
		if entry, ok := v.(*gateEntry); ok {
			return entry
		}
	}

	entry := &gateEntry{}
	if g.config.Mode == WindowFixed {
		entry.limiter = &fixedWindow{window: g.config.Window, quota: g.config.Quota}
	} else {
		entry.limiter = newSlidingWindow(g.config.Window, g.config.Quota)
	}
	g.limiters.Set(bundle, entry, cache.NoExpiration)
	return entry
}
