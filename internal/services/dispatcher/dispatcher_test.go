package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/device"
)

// scriptedDevice returns the scripted outcomes in order, repeating the last one.
type scriptedDevice struct {
	mu    sync.Mutex
	steps []step
	calls []string
	ctxs  []context.Context
}

type step struct {
	resp device.ActuatorResponse
	err  error
}

func (d *scriptedDevice) SendActuatorCommand(ctx context.Context, cmd, value string) (device.ActuatorResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, cmd+"="+value)
	d.ctxs = append(d.ctxs, ctx)
	s := d.steps[min(len(d.calls), len(d.steps))-1]
	return s.resp, s.err
}

type memAudit struct {
	mu      sync.Mutex
	entries []model.LogEntry
	err     error
}

func (a *memAudit) AppendLog(_ context.Context, e model.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

// instantTimer fires immediately and records each requested wait.
type instantTimer struct {
	mu    *sync.Mutex
	waits *[]time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.waits = append(*t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type publisherSpy struct {
	msgs []any
	err  error
}

func (p *publisherSpy) PublishMessage(m interface{}) error {
	p.msgs = append(p.msgs, m)
	return p.err
}
func (p *publisherSpy) Close() {}

type fixture struct {
	dev   *scriptedDevice
	audit *memAudit
	pub   *publisherSpy
	waits []time.Duration
	d     *Dispatcher
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture(steps ...step) *fixture {
	f := &fixture{dev: &scriptedDevice{steps: steps}, audit: &memAudit{}, pub: &publisherSpy{}}
	var mu sync.Mutex
	f.d = New(f.dev, f.audit, Config{
		NewTimer: func() backoff.Timer {
			return &instantTimer{mu: &mu, waits: &f.waits, c: make(chan time.Time, 1)}
		},
		Now:       func() time.Time { return fixedNow },
		Publisher: f.pub,
	})
	return f
}

func timeoutErr() error {
	return fmt.Errorf("send actuator command: %w: deadline", device.ErrTimeout)
}

func TestDispatch_EmptyCommandIsRejected(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200}})

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "  ", Actor: "ana"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, res.OK)
	assert.Equal(t, "cmd required", res.Error)
	assert.Empty(t, f.dev.calls)
	assert.Empty(t, f.audit.entries)
	assert.Empty(t, f.pub.msgs)
}

func TestDispatch_FirstAttemptSucceeds(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200, Body: "LED ON"}})

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "LED", Value: "ON", Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, model.DispatchResult{OK: true, Status: 200, Result: "LED ON", Attempts: 1}, res)
	assert.Empty(t, f.waits)

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, model.ActionActuator, e.Action)
	assert.Equal(t, "ana", e.Actor)
	assert.JSONEq(t, `{"cmd":"LED","value":"ON"}`, e.Payload)
	assert.Equal(t, "LED ON", e.Result)
	assert.Equal(t, fixedNow, e.Timestamp)
}

func TestDispatch_AlwaysTimeoutExhaustsBudget(t *testing.T) {
	f := newFixture(step{err: timeoutErr()})

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "WATER", Value: "ON"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Error, "device timeout")

	assert.Len(t, f.dev.calls, 3)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, f.waits)

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, model.ActionActuatorError, e.Action)
	assert.Equal(t, model.DefaultActor, e.Actor)
	assert.JSONEq(t, `{"cmd":"WATER","value":"ON"}`, e.Payload)
	assert.Equal(t, res.Error, e.Result)
}

func TestDispatch_RecoversOnSecondAttempt(t *testing.T) {
	f := newFixture(
		step{err: fmt.Errorf("%w: refused", device.ErrUnreachable)},
		step{resp: device.ActuatorResponse{StatusCode: 200, Body: "ok"}},
	)

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "STATUS"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, f.waits)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.ActionActuator, f.audit.entries[0].Action)
	assert.JSONEq(t, `{"cmd":"STATUS"}`, f.audit.entries[0].Payload)
}

func TestDispatch_DeviceErrorStatusStopsRetrying(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: http.StatusInternalServerError, Body: "relay fault"}})

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "WATER", Value: "ON"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Len(t, f.dev.calls, 1)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.ActionActuator, f.audit.entries[0].Action)
}

func TestDispatch_NonTransportErrorIsNotRetried(t *testing.T) {
	f := newFixture(step{err: errors.New("bad request url")})

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "LED"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Len(t, f.dev.calls, 1)
	assert.Equal(t, model.ActionActuatorError, f.audit.entries[0].Action)
}

func TestDispatch_AuditFailureStillReturnsResult(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200, Body: "ok"}})
	f.audit.err = errors.New("disk full")

	res, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "LED", Value: "OFF"})
	require.ErrorIs(t, err, ErrAuditWrite)
	assert.True(t, res.OK)
	assert.Equal(t, "ok", res.Result)
}

func TestDispatch_CallerCancellationIsDetached(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.d.Dispatch(ctx, model.CommandRequest{Command: "LED"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, f.dev.ctxs, 1)
	assert.NoError(t, f.dev.ctxs[0].Err())
}

func TestDispatch_PublishesOutcome(t *testing.T) {
	f := newFixture(step{err: timeoutErr()})
	f.pub.err = errors.New("broker down")

	_, err := f.d.Dispatch(context.Background(), model.CommandRequest{Command: "WATER", Value: "ON", Actor: "ana"})
	require.NoError(t, err)

	require.Len(t, f.pub.msgs, 1)
	ev, ok := f.pub.msgs[0].(model.CommandOutcomeEvent)
	require.True(t, ok)
	assert.Equal(t, "ana", ev.Actor)
	assert.False(t, ev.OK)
	assert.Equal(t, 3, ev.Attempts)
}

func TestDispatch_ConcurrentCallsEachLogOnce(t *testing.T) {
	f := newFixture(step{resp: device.ActuatorResponse{StatusCode: 200, Body: "ok"}})
	f.d.cfg.Publisher = nil

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.d.Dispatch(context.Background(), model.CommandRequest{Command: "LED", Value: "ON"})
		}()
	}
	wg.Wait()

	assert.Len(t, f.dev.calls, 20)
	assert.Len(t, f.audit.entries, 20)
}

func TestDispatch_RepeatedTimeoutsAlwaysReachDevice(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	dev := device.NewClient(srv.URL, 100*time.Millisecond, device.NewBreaker("esp32", 5, time.Minute))
	audit := &memAudit{}
	d := New(dev, audit, Config{
		NewTimer: func() backoff.Timer {
			var mu sync.Mutex
			var waits []time.Duration
			return &instantTimer{mu: &mu, waits: &waits, c: make(chan time.Time, 1)}
		},
	})

	for i := 0; i < 2; i++ {
		res, err := d.Dispatch(context.Background(), model.CommandRequest{Command: "WATER", Value: "ON"})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, 3, res.Attempts)
		assert.Contains(t, res.Error, device.ErrTimeout.Error())
	}

	assert.Equal(t, int32(6), hits.Load())
	assert.Equal(t, "closed", dev.BreakerState())
	require.Len(t, audit.entries, 2)
	for _, e := range audit.entries {
		assert.Equal(t, model.ActionActuatorError, e.Action)
		assert.Equal(t, `{"cmd":"WATER","value":"ON"}`, e.Payload)
		assert.NotContains(t, e.Result, "circuit breaker")
	}
}
