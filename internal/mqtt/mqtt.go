// Package mqtt wraps the paho MQTT client used by the MQTT forwarder.
package mqtt

import (
	"context"
	"time"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
)

// Client defines the MQTT operations the forwarder needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic using the configured QoS and retain flag.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Metrics receives connection and publish statistics.
// *metrics.MQTTMetrics implements it.
type Metrics interface {
	UpdateConnectionStatus(connected bool)
	IncrementMessagesDelivered()
	IncrementErrors()
	IncrementReconnectAttempts()
	ObserveMessageSize(sizeBytes int)
	ObservePublishLatency(d time.Duration)
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string // generated when empty
	Username string
	Password string
	QoS      byte
	Retain   bool // true to retain messages at the broker

	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// ErrNotConnected is returned by Publish while the client has no session.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

func getLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}

type noopMetrics struct{}

func (noopMetrics) UpdateConnectionStatus(bool)         {}
func (noopMetrics) IncrementMessagesDelivered()         {}
func (noopMetrics) IncrementErrors()                    {}
func (noopMetrics) IncrementReconnectAttempts()         {}
func (noopMetrics) ObserveMessageSize(int)              {}
func (noopMetrics) ObservePublishLatency(time.Duration) {}
