package forward

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// fakeProvider records every attempt. send decides the outcome.
type fakeProvider struct {
	name string
	send func(ctx context.Context, ev *Event) error

	mu       sync.Mutex
	attempts map[string]int
	sent     chan *Event
	closed   bool
}

func newFakeProvider(send func(ctx context.Context, ev *Event) error) *fakeProvider {
	return &fakeProvider{
		name:     "fake",
		send:     send,
		attempts: make(map[string]int),
		sent:     make(chan *Event, 64),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Send(ctx context.Context, ev *Event) error {
	p.mu.Lock()
	p.attempts[ev.ID]++
	p.mu.Unlock()

	if p.send != nil {
		if err := p.send(ctx, ev); err != nil {
			return err
		}
	}
	p.sent <- ev
	return nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) attemptsFor(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[id]
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func waitSent(t *testing.T, p *fakeProvider) *Event {
	t.Helper()
	select {
	case ev := <-p.sent:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

// recordingMetrics counts deliveries by status.
type recordingMetrics struct {
	noopMetrics

	mu             sync.Mutex
	statuses       map[string]int
	categories     map[string]int
	retryAttempts  int
	retrySuccesses int
	breakerStates  []int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{statuses: map[string]int{}, categories: map[string]int{}}
}

func (m *recordingMetrics) RecordDelivery(_, _, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status]++
}

func (m *recordingMetrics) RecordDeliveryError(_, _, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[category]++
}

func (m *recordingMetrics) RecordRetryAttempt(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAttempts++
}

func (m *recordingMetrics) RecordRetrySuccess(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrySuccesses++
}

func (m *recordingMetrics) UpdateCircuitBreakerState(_ string, state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerStates = append(m.breakerStates, state)
}

func (m *recordingMetrics) status(s string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[s]
}
