package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// Publisher holds the client and topic for publishing messages
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a new Publisher on the shared MQTT client.
func NewPublisher(client mqtt.Client, topic string, qos byte, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// PublishMessage publishes strings and byte slices as they are; anything
// else is JSON-encoded.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("invalid message format: %w", err)
		}
		payload = b
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message published", "topic", p.topic, "bytes", len(payload))
	return nil
}

// Close is a no-op: the shared client is closed by its owner.
func (p *Publisher) Close() {}
