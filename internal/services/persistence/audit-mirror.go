package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
)

const AuditMeasurement = "gateway_audit"

// LogEntryToPoint normalizza un LogEntry in un *write.Point.
func LogEntryToPoint(e model.LogEntry) *write.Point {
	t := e.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	tags := map[string]string{
		"action": string(e.Action),
		"user":   e.Actor,
	}
	fields := map[string]interface{}{
		"payload": e.Payload,
		"result":  e.Result,
		"count":   int64(1),
	}
	return influxdb2.NewPoint(AuditMeasurement, tags, fields, t)
}

const mirrorErrorWindow = 30 * time.Second

// AuditMirror copia le entry di audit su Influx in modo asincrono e traccia
// l'ultimo errore di scrittura per /readyz.
type AuditMirror struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	written int64
	log     *slog.Logger
}

func NewAuditMirror(w api.WriteAPI, logger *slog.Logger) *AuditMirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &AuditMirror{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
		log:     logger.With("component", "audit-mirror"),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				m.mu.Lock()
				m.lastErr = time.Now()
				m.mu.Unlock()
				m.log.Warn("influx write error", "error", err)
			}
		}
	}()
	return m
}

func (m *AuditMirror) Mirror(e model.LogEntry) {
	if m == nil {
		return
	}
	m.api.WritePoint(LogEntryToPoint(e))
	m.mu.Lock()
	m.written++
	m.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (m *AuditMirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

func (m *AuditMirror) Written() int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.written
}

// Check fallisce se Influx ha rifiutato scritture negli ultimi 30s.
func (m *AuditMirror) Check(context.Context) error {
	if age := m.LastErrorAge(); age < mirrorErrorWindow {
		return fmt.Errorf("audit mirror: write error %s ago", age.Truncate(time.Second))
	}
	return nil
}

// Flush forces pending points out; call on shutdown.
func (m *AuditMirror) Flush() {
	if m != nil {
		m.api.Flush()
	}
}

type auditAppender interface {
	AppendLog(ctx context.Context, e model.LogEntry) error
}

// MirroredLog writes to the primary audit store and, when that succeeds,
// to the mirror. Only the primary outcome is returned.
type MirroredLog struct {
	primary auditAppender
	mirror  *AuditMirror
}

func NewMirroredLog(primary auditAppender, mirror *AuditMirror) *MirroredLog {
	return &MirroredLog{primary: primary, mirror: mirror}
}

func (l *MirroredLog) AppendLog(ctx context.Context, e model.LogEntry) error {
	if err := l.primary.AppendLog(ctx, e); err != nil {
		return err
	}
	l.mirror.Mirror(e)
	return nil
}
