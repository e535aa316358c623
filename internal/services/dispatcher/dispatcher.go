// Package dispatcher delivers actuator commands to the device with bounded
// retries and records exactly one audit entry per accepted command.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/device"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/retry"
)

const (
	DefaultAttempts    = 3
	DefaultBackoffStep = 200 * time.Millisecond
)

var (
	// ErrInvalidRequest: comando vuoto, nessuna chiamata al device e nessun log.
	ErrInvalidRequest = errors.New("cmd required")
	// ErrAuditWrite is returned alongside a valid result when the outcome
	// could not be recorded.
	ErrAuditWrite = errors.New("audit write failed")
)

// Actuator is the slice of the device client the dispatcher needs.
type Actuator interface {
	SendActuatorCommand(ctx context.Context, cmd, value string) (device.ActuatorResponse, error)
}

// AuditLog is the append side of the audit log store.
type AuditLog interface {
	AppendLog(ctx context.Context, e model.LogEntry) error
}

type Config struct {
	Attempts    int           // default 3
	BackoffStep time.Duration // default 200ms; attesa = step * tentativo
	// NewTimer builds the timer used for the waits of one dispatch; nil means real time.
	NewTimer  func() backoff.Timer
	Now       func() time.Time
	Logger    *slog.Logger
	Publisher rabbitmq.IPublisher // outcome events, opzionale
	Metrics   *metrics.Metrics
}

type Dispatcher struct {
	device Actuator
	audit  AuditLog
	cfg    Config
	log    *slog.Logger
}

func New(dev Actuator, audit AuditLog, cfg Config) *Dispatcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{device: dev, audit: audit, cfg: cfg, log: cfg.Logger.With("component", "dispatcher")}
}

type commandPayload struct {
	Cmd   string `json:"cmd"`
	Value string `json:"value,omitempty"`
}

// Dispatch sends req to the device. Any HTTP answer counts as delivered;
// only transport failures are retried. The caller's cancellation does not
// abort a dispatch in flight.
//
// The returned result is always meaningful when err is nil or wraps
// ErrAuditWrite.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.CommandRequest) (model.DispatchResult, error) {
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" {
		return model.DispatchResult{OK: false, Error: ErrInvalidRequest.Error()}, ErrInvalidRequest
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = model.DefaultActor
	}
	ctx = context.WithoutCancel(ctx)

	var resp device.ActuatorResponse
	attempts, err := retry.Do(d.cfg.Attempts, &retry.Linear{Step: d.cfg.BackoffStep}, d.timer(), func(attempt int) error {
		d.cfg.Metrics.DispatchAttempt()
		r, err := d.device.SendActuatorCommand(ctx, cmd, req.Value)
		if err != nil {
			d.log.Warn("actuator attempt failed", "cmd", cmd, "attempt", attempt, "error", err)
			if !device.IsTransport(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	})

	payload, _ := json.Marshal(commandPayload{Cmd: cmd, Value: req.Value})
	entry := model.LogEntry{
		Actor:     actor,
		Payload:   string(payload),
		Timestamp: d.cfg.Now(),
	}

	var res model.DispatchResult
	if err != nil {
		entry.Action = model.ActionActuatorError
		entry.Result = err.Error()
		res = model.DispatchResult{OK: false, Error: err.Error(), Attempts: attempts}
		d.log.Error("actuator command failed", "cmd", cmd, "value", req.Value, "user", actor, "attempts", attempts, "error", err)
	} else {
		entry.Action = model.ActionActuator
		entry.Result = resp.Body
		res = model.DispatchResult{OK: true, Status: resp.StatusCode, Result: resp.Body, Attempts: attempts}
		d.log.Info("actuator command delivered", "cmd", cmd, "value", req.Value, "user", actor, "status", resp.StatusCode, "attempts", attempts)
	}
	d.cfg.Metrics.DispatchOutcome(res.OK)

	var auditErr error
	if aerr := d.audit.AppendLog(ctx, entry); aerr != nil {
		auditErr = fmt.Errorf("%w: %v", ErrAuditWrite, aerr)
		d.log.Error("audit write failed", "action", entry.Action, "error", aerr)
	}

	d.publish(model.CommandOutcomeEvent{
		Actor:     actor,
		Cmd:       cmd,
		Value:     req.Value,
		OK:        res.OK,
		Status:    res.Status,
		Result:    res.Result,
		Error:     res.Error,
		Attempts:  attempts,
		Timestamp: entry.Timestamp,
	})

	return res, auditErr
}

func (d *Dispatcher) timer() backoff.Timer {
	if d.cfg.NewTimer == nil {
		return nil
	}
	return d.cfg.NewTimer()
}

func (d *Dispatcher) publish(ev model.CommandOutcomeEvent) {
	if d.cfg.Publisher == nil {
		return
	}
	if err := d.cfg.Publisher.PublishMessage(ev); err != nil {
		d.log.Warn("outcome publish failed", "cmd", ev.Cmd, "error", err)
	}
}
