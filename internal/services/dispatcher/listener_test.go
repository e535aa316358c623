package dispatcher

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/device"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/dedup"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/rabbitmq"
)

type stubConsumer struct{ handler rabbitmq.Handler }

func (c *stubConsumer) SetHandler(h rabbitmq.Handler) { c.handler = h }
func (c *stubConsumer) ConsumeMessage(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type stubMessage struct {
	mqtt.Message
	payload []byte
	id      uint16
	dup     bool
}

func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) MessageID() uint16 { return m.id }
func (m stubMessage) Duplicate() bool   { return m.dup }

func TestCommandListener_DropsBrokerRedelivery(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200, Body: "ok"}})
	cons := &stubConsumer{}
	l := NewCommandListener(cons, f.d, dedup.New(0, 0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Start(ctx))
	require.NotNil(t, cons.handler)

	msg := stubMessage{payload: []byte(`{"cmd":"WATER","value":"ON","user":"scheduler"}`), id: 11}
	require.NoError(t, cons.handler("smartfarm/commands", msg))
	msg.dup = true
	require.NoError(t, cons.handler("smartfarm/commands", msg))

	assert.Len(t, f.dev.calls, 1)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "scheduler", f.audit.entries[0].Actor)
	assert.Equal(t, model.ActionActuator, f.audit.entries[0].Action)
}

func TestCommandListener_RepeatedCommandsAreAllDispatched(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200, Body: "ok"}})
	l := NewCommandListener(&stubConsumer{}, f.d, dedup.New(10*time.Minute, 10000), nil)

	on := []byte(`{"cmd":"WATER","value":"ON"}`)
	off := []byte(`{"cmd":"WATER","value":"OFF"}`)
	require.NoError(t, l.handle("smartfarm/commands", stubMessage{payload: on, id: 1}))
	require.NoError(t, l.handle("smartfarm/commands", stubMessage{payload: off, id: 2}))
	require.NoError(t, l.handle("smartfarm/commands", stubMessage{payload: on, id: 3}))
	// QoS0: nessun packet id, mai scartato
	require.NoError(t, l.handle("smartfarm/commands", stubMessage{payload: on}))
	require.NoError(t, l.handle("smartfarm/commands", stubMessage{payload: on}))

	assert.Equal(t, []string{"WATER=ON", "WATER=OFF", "WATER=ON", "WATER=ON", "WATER=ON"}, f.dev.calls)
	assert.Len(t, f.audit.entries, 5)
}

func TestCommandListener_ReusedPacketIDIsNotADuplicate(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200}})
	l := NewCommandListener(&stubConsumer{}, f.d, nil, nil)

	require.NoError(t, l.handle("t", stubMessage{payload: []byte(`{"cmd":"LED"}`), id: 5}))
	require.NoError(t, l.handle("t", stubMessage{payload: []byte(`{"cmd":"LED"}`), id: 5}))
	// una ridistribuzione di un messaggio mai visto viene eseguita
	require.NoError(t, l.handle("t", stubMessage{payload: []byte(`{"cmd":"FAN"}`), id: 9, dup: true}))

	assert.Equal(t, []string{"LED=", "LED=", "FAN="}, f.dev.calls)
}

func TestCommandListener_RejectsBadPayloads(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200}})
	l := NewCommandListener(&stubConsumer{}, f.d, nil, nil)

	assert.Error(t, l.handle("t", stubMessage{payload: []byte(`not json`)}))
	assert.ErrorIs(t, l.handle("t", stubMessage{payload: []byte(`{"value":"ON"}`)}), ErrInvalidRequest)
	assert.Empty(t, f.dev.calls)
	assert.Empty(t, f.audit.entries)
}
