package rabbitmq

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer interface defines the ConsumeMessage method
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer holds the client and topic for subscribing
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	qos     byte
	logger  *slog.Logger
}

// NewConsumer creates a new Consumer using the shared MQTT client and topic
func NewConsumer(client mqtt.Client, topic string, qos byte, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, topic: topic, qos: qos, logger: logger}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// ConsumeMessage subscribes to the topic and processes messages using the handler.
// It blocks until the context is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			c.logger.Warn("no handler set", "topic", c.topic)
			return
		}
		if err := c.handler(c.topic, message); err != nil {
			c.logger.Error("error handling message", "topic", c.topic, "error", err)
		}
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	c.logger.Info("subscribed", "topic", c.topic)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
