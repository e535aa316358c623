package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model/entities"
)

// --- Reading Operations ---

// AppendReading inserts a new sensor reading. A zero timestamp means "now".
func (db *DB) AppendReading(ctx context.Context, r entities.Reading) error {
	if strings.TrimSpace(r.SensorName) == "" {
		return fmt.Errorf("%w: reading without sensor name", ErrInvalidEntry)
	}
	ts := db.stamp(r.Timestamp)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO readings (sensor_name, value, raw, ts) VALUES (?, ?, ?, ?)`,
		r.SensorName, r.Value, r.RawPayload, toMillis(ts))
	if err != nil {
		return unavailable("insert reading", err)
	}
	return nil
}

// AverageReading returns the mean value of sensor in [from, to] and how many
// rows contributed. No rows yields (0, 0, nil).
func (db *DB) AverageReading(ctx context.Context, sensor string, from, to time.Time) (float64, int, error) {
	var (
		avg sql.NullFloat64
		n   int
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT AVG(value), COUNT(*) FROM readings
		 WHERE sensor_name = ? AND ts >= ? AND ts <= ?`,
		sensor, toMillis(from), toMillis(to)).Scan(&avg, &n)
	if err != nil {
		return 0, 0, unavailable("average readings", err)
	}
	return avg.Float64, n, nil
}

// RecentReadings returns readings newer than since, newest first. An empty
// sensor matches every sensor.
func (db *DB) RecentReadings(ctx context.Context, sensor string, since time.Time, limit int) ([]entities.Reading, error) {
	query := `SELECT id, sensor_name, value, raw, ts FROM readings WHERE ts >= ?`
	args := []any{toMillis(since)}
	if sensor != "" {
		query += ` AND sensor_name = ?`
		args = append(args, sensor)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query readings", err)
	}
	defer rows.Close()

	out := make([]entities.Reading, 0)
	for rows.Next() {
		var (
			r  entities.Reading
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.SensorName, &r.Value, &r.RawPayload, &ts); err != nil {
			return nil, unavailable("scan reading", err)
		}
		r.Timestamp = fromMillis(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate readings", err)
	}
	return out, nil
}
