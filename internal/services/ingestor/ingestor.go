// Package ingestor polls the device /sensors endpoint and persists every
// numeric field as a Reading.
package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/rabbitmq"
)

// DefaultInterval is the polling cadence of Run.
const DefaultInterval = 2 * time.Second

var (
	// ErrUpstream wraps any failure to obtain a snapshot from the device.
	ErrUpstream = errors.New("upstream failure")
	// ErrOutOfRange: numero JSON non rappresentabile come float64 (es. 1e400).
	ErrOutOfRange = errors.New("number out of range")
)

type SensorReader interface {
	ReadSensors(ctx context.Context) (map[string]any, error)
}

type ReadingStore interface {
	AppendReading(ctx context.Context, r model.Reading) error
}

type AuditLog interface {
	AppendLog(ctx context.Context, e model.LogEntry) error
}

// IngestResult is the snapshot plus what happened to it. Stored is false
// when at least one reading could not be written; PersistError says why.
type IngestResult struct {
	Data         map[string]any
	Timestamp    time.Time
	Stored       bool
	Readings     int
	PersistError error
}

type Options struct {
	Now       func() time.Time
	Logger    *slog.Logger
	Publisher rabbitmq.IPublisher // telemetry snapshots, opzionale
	Metrics   *metrics.Metrics
}

type Ingestor struct {
	device   SensorReader
	readings ReadingStore
	audit    AuditLog
	now      func() time.Time
	log      *slog.Logger
	pub      rabbitmq.IPublisher
	metrics  *metrics.Metrics
}

func New(dev SensorReader, readings ReadingStore, audit AuditLog, opts Options) *Ingestor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingestor{
		device:   dev,
		readings: readings,
		audit:    audit,
		now:      opts.Now,
		log:      opts.Logger.With("component", "ingestor"),
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
	}
}

// PollOnce reads the device once and stores the numeric fields. Only a
// device failure is returned as an error; storage failures are recorded in
// the audit log and reported through IngestResult.
func (i *Ingestor) PollOnce(ctx context.Context) (IngestResult, error) {
	data, err := i.device.ReadSensors(ctx)
	if err != nil {
		i.metrics.IngestResult("upstream_error")
		return IngestResult{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	ts := i.now()
	res := IngestResult{Data: data, Timestamp: ts, Stored: true}

	// ordine stabile delle scritture
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		v, ok, err := numeric(data[k])
		if !ok {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			i.metrics.PersistFailure()
			continue
		}
		raw, _ := json.Marshal(data[k])
		r := model.Reading{SensorName: k, Value: v, RawPayload: string(raw), Timestamp: ts}
		if err := i.readings.AppendReading(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			i.metrics.PersistFailure()
			continue
		}
		res.Readings++
	}

	if len(errs) > 0 {
		res.Stored = false
		res.PersistError = errors.Join(errs...)
		i.recordPersistFailure(ctx, data, ts, res.PersistError)
		i.metrics.IngestResult("absorbed")
	} else {
		i.metrics.IngestResult("stored")
	}

	i.publish(model.TelemetrySnapshot{Data: data, Stored: res.Stored, Timestamp: ts})
	return res, nil
}

func (i *Ingestor) recordPersistFailure(ctx context.Context, data map[string]any, ts time.Time, cause error) {
	i.log.Error("failed to persist readings", "error", cause)
	snapshot, _ := json.Marshal(data)
	err := i.audit.AppendLog(ctx, model.LogEntry{
		Actor:     model.SystemActor,
		Action:    model.ActionPersistSensor,
		Payload:   string(snapshot),
		Result:    cause.Error(),
		Timestamp: ts,
	})
	if err != nil {
		i.log.Error("failed to record persistence failure", "error", err)
	}
}

func (i *Ingestor) publish(s model.TelemetrySnapshot) {
	if i.pub == nil {
		return
	}
	if err := i.pub.PublishMessage(s); err != nil {
		i.log.Warn("telemetry publish failed", "error", err)
	}
}

// Run polls every interval until ctx is done. The first poll happens
// immediately.
func (i *Ingestor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res, err := i.PollOnce(ctx); err != nil {
			i.log.Warn("poll failed", "error", err)
		} else {
			i.log.Debug("poll done", "readings", res.Readings, "stored", res.Stored)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// numeric reports whether v is a JSON number and returns it. Strings are
// never numeric, even when they look like one. A number that does not fit
// a float64 is still numeric and comes back with ErrOutOfRange.
func numeric(v any) (float64, bool, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s", ErrOutOfRange, n.String())
		}
		return f, true, nil
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case uint:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case uint32:
		return float64(n), true, nil
	}
	return 0, false, nil
}
