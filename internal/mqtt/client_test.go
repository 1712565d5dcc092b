package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openans/ansd/internal/errors"
)

type countingMetrics struct {
	noopMetrics
	errors int
}

func (m *countingMetrics) IncrementErrors() { m.errors++ }

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)

	_, err = NewClient(Config{Broker: "tcp://localhost:1883", QoS: 3}, nil)
	require.Error(t, err)

	c, err := NewClient(Config{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)

	impl := c.(*client)
	assert.Regexp(t, `^ansd-[0-9a-f]{8}$`, impl.config.ClientID)
	assert.Equal(t, DefaultConfig().PublishTimeout, impl.config.PublishTimeout)
	assert.False(t, c.IsConnected())
}

func TestClient_PublishWithoutConnection(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Broker: "tcp://127.0.0.1:1883"}, nil)
	require.NoError(t, err)

	err = c.Publish(t.Context(), "ansd/test", []byte("{}"))
	require.ErrorIs(t, err, ErrNotConnected)

	// Disconnect before connect is a no-op
	c.Disconnect()
}

func TestClient_ConnectRefusedAndCooldown(t *testing.T) {
	t.Parallel()

	metrics := &countingMetrics{}
	c, err := NewClient(Config{
		Broker:            "tcp://127.0.0.1:1",
		ConnectTimeout:    2 * time.Second,
		ReconnectCooldown: time.Minute,
	}, metrics)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, metrics.errors)

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, string(errors.CategoryMQTTConnection), ee.GetCategory())
	category, _ := ee.ContextValue("url_category")
	assert.Equal(t, "mqtt-broker", category)
	assert.NotContains(t, fmt.Sprint(ee.GetContext()), "127.0.0.1", "broker address is not recorded")

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
	assert.False(t, c.IsConnected())
}
