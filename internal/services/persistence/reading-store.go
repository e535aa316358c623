package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/storage"
)

const DefaultReadingMeasurement = "sensor_reading"

// InfluxReadingStore keeps readings as points of one measurement, tagged by
// sensor. Readings read back carry no ID.
type InfluxReadingStore struct {
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	bucket      string
	measurement string
}

func NewInfluxReadingStore(client influxdb2.Client, cfg InfluxConfig) *InfluxReadingStore {
	return &InfluxReadingStore{
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:    client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: DefaultReadingMeasurement,
	}
}

// ReadingToPoint: tag sensor, field value (float) e raw (string).
func ReadingToPoint(measurement string, r model.Reading) *write.Point {
	t := r.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	return influxdb2.NewPoint(
		sanitizeMeasurement(measurement),
		map[string]string{"sensor": r.SensorName},
		map[string]interface{}{"value": r.Value, "raw": r.RawPayload},
		t,
	)
}

func (s *InfluxReadingStore) AppendReading(ctx context.Context, r model.Reading) error {
	if strings.TrimSpace(r.SensorName) == "" {
		return fmt.Errorf("%w: reading without sensor name", storage.ErrInvalidEntry)
	}
	if err := s.writeAPI.WritePoint(ctx, ReadingToPoint(s.measurement, r)); err != nil {
		return fmt.Errorf("%w: influx write: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *InfluxReadingStore) AverageReading(ctx context.Context, sensor string, from, to time.Time) (float64, int, error) {
	res, err := s.queryAPI.Query(ctx, buildStatsFlux(s.bucket, s.measurement, sensor, from, to))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: influx query: %v", storage.ErrStoreUnavailable, err)
	}
	defer res.Close()

	var (
		sum float64
		n   int
	)
	for res.Next() {
		rec := res.Record()
		sum += toFloat(rec.ValueByKey("sum"))
		n += int(toFloat(rec.ValueByKey("count")))
	}
	if res.Err() != nil {
		return 0, 0, fmt.Errorf("%w: influx iterate: %v", storage.ErrStoreUnavailable, res.Err())
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (s *InfluxReadingStore) RecentReadings(ctx context.Context, sensor string, since time.Time, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		return []model.Reading{}, nil
	}
	res, err := s.queryAPI.Query(ctx, buildRecentFlux(s.bucket, s.measurement, sensor, since, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: influx query: %v", storage.ErrStoreUnavailable, err)
	}
	defer res.Close()

	out := make([]model.Reading, 0, limit)
	for res.Next() {
		rec := res.Record()
		r := model.Reading{Value: toFloat(rec.ValueByKey("value")), Timestamp: rec.Time().UTC()}
		if v, ok := rec.ValueByKey("sensor").(string); ok {
			r.SensorName = v
		}
		if v, ok := rec.ValueByKey("raw").(string); ok {
			r.RawPayload = v
		}
		out = append(out, r)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("%w: influx iterate: %v", storage.ErrStoreUnavailable, res.Err())
	}
	return out, nil
}

// range() esclude lo stop: si aggiunge un millisecondo per includere "to".
func buildStatsFlux(bucket, measurement, sensor string, from, to time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: time(v: %q), stop: time(v: %q))
  |> filter(fn: (r) => r._measurement == %q and r.sensor == %q and r._field == "value")
  |> group()
  |> reduce(fn: (r, accumulator) => ({sum: accumulator.sum + float(v: r._value), count: accumulator.count + 1}), identity: {sum: 0.0, count: 0})
`, bucket, from.UTC().Format(time.RFC3339Nano), to.Add(time.Millisecond).UTC().Format(time.RFC3339Nano), measurement, sensor)
}

func buildRecentFlux(bucket, measurement, sensor string, since time.Time, limit int) string {
	filter := fmt.Sprintf(`r._measurement == %q`, measurement)
	if sensor != "" {
		filter += fmt.Sprintf(` and r.sensor == %q`, sensor)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: time(v: %q))
  |> filter(fn: (r) => %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> keep(columns: ["_time","sensor","value","raw"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, since.UTC().Format(time.RFC3339Nano), filter, limit)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
