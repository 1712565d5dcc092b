package forward

import (
	"fmt"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/mqtt"
)

// FromSettings converts the shared forward settings into a dispatcher Config.
func FromSettings(settings *conf.ForwardSettings, bundles []string) Config {
	return Config{
		QueueSize:  settings.QueueSize,
		MaxRetries: settings.MaxRetries,
		RetryDelay: settings.RetryDelay,
		Timeout:    settings.Timeout,
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:         settings.CircuitBreaker.MaxFailures,
			Timeout:             settings.CircuitBreaker.Timeout,
			HalfOpenMaxRequests: settings.CircuitBreaker.HalfOpenMaxRequests,
		},
		Bundles: bundles,
	}
}

// BuildDispatchers creates a dispatcher for every enabled forwarder in
// settings. mqttMetrics and metrics may be nil. Dispatchers are not started.
func BuildDispatchers(settings *conf.Settings, metrics Metrics, mqttMetrics mqtt.Metrics) ([]*Dispatcher, error) {
	var dispatchers []*Dispatcher

	if settings.MQTT.Enabled {
		provider, err := newMQTTProviderFromSettings(&settings.MQTT, mqttMetrics)
		if err != nil {
			return nil, err
		}
		dispatchers = append(dispatchers,
			NewDispatcher(provider, FromSettings(&settings.Forward, settings.MQTT.Bundles), metrics))
	}

	for i := range settings.Webhooks {
		hook := &settings.Webhooks[i]
		provider, err := NewWebhookProvider(hook.Name, webhookEndpoints(hook))
		if err != nil {
			return nil, err
		}
		dispatchers = append(dispatchers,
			NewDispatcher(provider, FromSettings(&settings.Forward, hook.Bundles), metrics))
	}

	if settings.Shoutrrr.Enabled {
		provider, err := NewShoutrrrProvider(settings.Shoutrrr.URLs, settings.Forward.Timeout)
		if err != nil {
			return nil, fmt.Errorf("shoutrrr: %w", err)
		}
		dispatchers = append(dispatchers,
			NewDispatcher(provider, FromSettings(&settings.Forward, settings.Shoutrrr.Bundles), metrics))
	}

	return dispatchers, nil
}

func newMQTTProviderFromSettings(settings *conf.MQTTSettings, metrics mqtt.Metrics) (*MQTTProvider, error) {
	encoding, err := ParseEncoding(settings.Encoding)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}

	cfg := mqtt.DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.ClientID = settings.ClientID
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.QoS = byte(settings.QoS)
	cfg.Retain = settings.Retain

	client, err := mqtt.NewClient(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	return NewMQTTProvider(client, settings.Topic, encoding), nil
}

func webhookEndpoints(hook *conf.WebhookSettings) []WebhookEndpoint {
	endpoints := make([]WebhookEndpoint, 0, len(hook.Endpoints))
	for _, ep := range hook.Endpoints {
		endpoints = append(endpoints, WebhookEndpoint{
			URL:     ep.URL,
			Method:  ep.Method,
			Headers: ep.Headers,
			Auth: WebhookAuth{
				Type:   ep.Auth.Type,
				Token:  ep.Auth.Token,
				User:   ep.Auth.User,
				Pass:   ep.Auth.Pass,
				Header: ep.Auth.Header,
				Value:  ep.Auth.Value,
			},
		})
	}
	return endpoints
}
