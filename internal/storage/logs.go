package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model/entities"
)

// --- Audit Log Operations ---

// AppendLog appends an audit entry. The table is never updated.
func (db *DB) AppendLog(ctx context.Context, e entities.LogEntry) error {
	if e.Action == "" {
		return fmt.Errorf("%w: log entry without action", ErrInvalidEntry)
	}
	ts := db.stamp(e.Timestamp)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO logs (user, action, payload, result, ts) VALUES (?, ?, ?, ?, ?)`,
		e.Actor, string(e.Action), e.Payload, e.Result, toMillis(ts))
	if err != nil {
		return unavailable("insert log", err)
	}
	return nil
}

// RecentLogs returns at most limit entries, newest first.
func (db *DB) RecentLogs(ctx context.Context, limit int) ([]entities.LogEntry, error) {
	if limit <= 0 {
		return []entities.LogEntry{}, nil
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user, action, payload, result, ts FROM logs
		 ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("query logs", err)
	}
	defer rows.Close()

	out := make([]entities.LogEntry, 0, limit)
	for rows.Next() {
		var (
			e      entities.LogEntry
			action string
			ts     int64
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Payload, &e.Result, &ts); err != nil {
			return nil, unavailable("scan log", err)
		}
		e.Action = entities.Action(action)
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate logs", err)
	}
	return out, nil
}

// CountCommands counts entries with the given action whose payload carries
// cmd, within [from, to].
func (db *DB) CountCommands(ctx context.Context, action entities.Action, cmd string, from, to time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM logs
		 WHERE action = ?
		   AND CASE WHEN json_valid(payload) THEN json_extract(payload, '$.cmd') END = ?
		   AND ts >= ? AND ts <= ?`,
		string(action), cmd, toMillis(from), toMillis(to)).Scan(&n)
	if err != nil {
		return 0, unavailable("count commands", err)
	}
	return n, nil
}
