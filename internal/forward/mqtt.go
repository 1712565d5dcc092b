package forward

import (
	"context"
	"fmt"
	"strings"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/mqtt"
)

// MQTTProvider publishes events to <topic>/<bundle>/<kind>, and do-not-disturb
// changes to <topic>/dnd.
type MQTTProvider struct {
	client   mqtt.Client
	topic    string
	encoding Encoding
}

// NewMQTTProvider wraps client. The connection is opened on first use and
// reopened after it drops.
func NewMQTTProvider(client mqtt.Client, baseTopic string, encoding Encoding) *MQTTProvider {
	return &MQTTProvider{
		client:   client,
		topic:    strings.TrimSuffix(baseTopic, "/"),
		encoding: encoding,
	}
}

// Name implements Provider.
func (p *MQTTProvider) Name() string { return "mqtt" }

// Topic returns the topic ev is published to.
func (p *MQTTProvider) Topic(ev *Event) string {
	if ev.Kind == EventDoNotDisturb || ev.Bundle == "" {
		return p.topic + "/" + string(ev.Kind)
	}
	return p.topic + "/" + ev.Bundle + "/" + string(ev.Kind)
}

// Send implements Provider.
func (p *MQTTProvider) Send(ctx context.Context, ev *Event) error {
	payload, err := p.encoding.Marshal(ev)
	if err != nil {
		return permanent(err)
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return errors.New(fmt.Errorf("mqtt connect: %w", err)).
				Component("forward").
				Category(errors.CategoryMQTTConnection).
				Build()
		}
	}

	if err := p.client.Publish(ctx, p.Topic(ev), payload); err != nil {
		return errors.New(fmt.Errorf("mqtt publish: %w", err)).
			Component("forward").
			Category(errors.CategoryMQTTPublish).
			Context("topic", p.Topic(ev)).
			Build()
	}
	return nil
}

// Close implements Provider.
func (p *MQTTProvider) Close() error {
	p.client.Disconnect()
	return nil
}
