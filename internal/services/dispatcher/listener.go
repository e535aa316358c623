package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/dedup"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/rabbitmq"
)

// CommandListener feeds commands received over MQTT into the Dispatcher.
// Only broker redeliveries (DUP flag, same packet id) are dropped: a command
// repeated by the operator is a new message and is always dispatched.
type CommandListener struct {
	consumer   rabbitmq.IConsumer
	dispatcher *Dispatcher
	dedup      *dedup.Deduper
	log        *slog.Logger
}

func NewCommandListener(consumer rabbitmq.IConsumer, d *Dispatcher, dd *dedup.Deduper, logger *slog.Logger) *CommandListener {
	if dd == nil {
		dd = dedup.New(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandListener{
		consumer:   consumer,
		dispatcher: d,
		dedup:      dd,
		log:        logger.With("component", "command-listener"),
	}
}

// Start blocks until ctx is cancelled.
func (l *CommandListener) Start(ctx context.Context) error {
	l.consumer.SetHandler(l.handle)
	return l.consumer.ConsumeMessage(ctx)
}

func (l *CommandListener) handle(topic string, message mqtt.Message) error {
	key := dedup.MessageKey(topic, message.MessageID())
	if message.Duplicate() {
		if !l.dedup.ShouldProcess(key) {
			l.log.Debug("redelivered command dropped", "topic", topic, "message_id", message.MessageID())
			return nil
		}
	} else {
		l.dedup.Mark(key)
	}

	var msg model.CommandMessage
	if err := json.Unmarshal(message.Payload(), &msg); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	res, err := l.dispatcher.Dispatch(context.Background(), model.CommandRequest{
		Command: msg.Cmd,
		Value:   msg.Value,
		Actor:   msg.User,
	})
	if err != nil {
		return err
	}
	l.log.Info("mqtt command dispatched", "cmd", msg.Cmd, "ok", res.OK)
	return nil
}
