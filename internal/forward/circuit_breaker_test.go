package forward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProviderDown = errors.New("provider down")

func failing(context.Context) error   { return errProviderDown }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	metrics := newRecordingMetrics()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour, HalfOpenMaxRequests: 1}, metrics, "test")

	require.ErrorIs(t, cb.Call(t.Context(), failing), errProviderDown)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Call(t.Context(), failing), errProviderDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsHealthy())

	called := false
	err := cb.Call(t.Context(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called, "open breaker must not call through")

	metrics.mu.Lock()
	assert.Equal(t, []int{int(StateClosed), int(StateOpen)}, metrics.breakerStates)
	metrics.mu.Unlock()
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond, HalfOpenMaxRequests: 1}, nil, "test")

	require.Error(t, cb.Call(t.Context(), failing))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	// Probe fails and reopens the breaker
	require.ErrorIs(t, cb.Call(t.Context(), failing), errProviderDown)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Call(t.Context(), succeeding))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMaxRequests: 1}, nil, "test")
	require.Error(t, cb.Call(t.Context(), failing))
	time.Sleep(20 * time.Millisecond)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(t.Context(), func(context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()

	<-probing
	require.ErrorIs(t, cb.Call(t.Context(), succeeding), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotFailure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}, nil, "test")

	err := cb.Call(t.Context(), func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}, nil, "test")
	require.Error(t, cb.Call(t.Context(), failing))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	stats := cb.GetStats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.Failures)
	assert.True(t, stats.LastFailureTime.IsZero())
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultCircuitBreakerConfig().Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 0, Timeout: time.Minute, HalfOpenMaxRequests: 1}.Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Millisecond, HalfOpenMaxRequests: 1}.Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute}.Validate())
}
