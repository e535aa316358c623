// Package kpi derives the dashboard indicators from the reading and audit
// log stores.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
)

const (
	// DefaultMinutesPerEvent approssima la durata di un'irrigazione:
	// i log registrano l'avvio, non lo stop.
	DefaultMinutesPerEvent = 5.0
	DefaultWindow          = 24 * time.Hour

	SoilSensor   = "soil"
	WaterCommand = "WATER"
)

// ErrStoreUnavailable is returned when either store cannot be read.
var ErrStoreUnavailable = errors.New("kpi: store unavailable")

type ReadingStats interface {
	AverageReading(ctx context.Context, sensor string, from, to time.Time) (float64, int, error)
}

type CommandCounter interface {
	CountCommands(ctx context.Context, action model.Action, cmd string, from, to time.Time) (int, error)
}

type Aggregator struct {
	readings        ReadingStats
	logs            CommandCounter
	minutesPerEvent float64
	now             func() time.Time
	log             *slog.Logger
	metrics         *metrics.Metrics
}

type Option func(*Aggregator)

// WithMinutesPerEvent overrides the assumed duration of one WATER command.
func WithMinutesPerEvent(m float64) Option {
	return func(a *Aggregator) {
		if m > 0 {
			a.minutesPerEvent = m
		}
	}
}

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

func New(readings ReadingStats, logs CommandCounter, opts ...Option) *Aggregator {
	a := &Aggregator{
		readings:        readings,
		logs:            logs,
		minutesPerEvent: DefaultMinutesPerEvent,
		now:             time.Now,
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Compute returns the indicators over [now-window, now]. Values are rounded
// once, here.
func (a *Aggregator) Compute(ctx context.Context, window time.Duration) (model.KPISnapshot, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	end := a.now()
	start := end.Add(-window)

	avg, n, err := a.readings.AverageReading(ctx, SoilSensor, start, end)
	if err != nil {
		return model.KPISnapshot{}, a.fail("average soil", err)
	}
	if n == 0 {
		avg = 0
	}

	events, err := a.logs.CountCommands(ctx, model.ActionActuator, WaterCommand, start, end)
	if err != nil {
		return model.KPISnapshot{}, a.fail("count irrigation events", err)
	}

	return model.KPISnapshot{
		WindowStart:              start,
		WindowEnd:                end,
		AverageSoilMoisture:      Round2(avg),
		EstimatedIrrigationHours: Round2(float64(events) * a.minutesPerEvent / 60),
	}, nil
}

func (a *Aggregator) fail(op string, err error) error {
	a.metrics.KPIError()
	a.log.Error("kpi computation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
