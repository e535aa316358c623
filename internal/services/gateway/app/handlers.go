package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/dispatcher"
)

const (
	maxLogs            = 200
	defaultReadingMins = 60
	maxReadingMins     = 7 * 24 * 60
	defaultReadingRows = 500
	maxReadingRows     = 5000
	maxBodyBytes       = 1 << 16
)

// POST /api/actuator {cmd, value?, user?}
func (g *Gateway) HandleActuator(w http.ResponseWriter, r *http.Request) {
	var body actuatorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Error: "invalid JSON body"})
		return
	}
	value, err := body.value()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Error: err.Error()})
		return
	}

	// con l'autenticazione attiva l'attore è quello del token
	actor := UserFromContext(r.Context())
	if actor == "" {
		actor = strings.TrimSpace(body.User)
	}

	res, err := g.cfg.Dispatcher.Dispatch(r.Context(), model.CommandRequest{Command: body.Cmd, Value: value, Actor: actor})
	switch {
	case errors.Is(err, dispatcher.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Error: dispatcher.ErrInvalidRequest.Error()})
		return
	case errors.Is(err, dispatcher.ErrAuditWrite):
		// il comando è stato comunque risolto: si risponde con l'esito
		g.log.Error("actuator outcome not audited", "cmd", body.Cmd, "error", err, "request_id", RequestIDFromContext(r.Context()))
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{OK: false, Error: err.Error()})
		return
	}

	if !res.OK {
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{OK: false, Error: res.Error})
		return
	}
	writeJSON(w, http.StatusOK, actuatorResponse{OK: true, Status: res.Status, Result: res.Result})
}

// GET /api/sensors
func (g *Gateway) HandleSensors(w http.ResponseWriter, r *http.Request) {
	res, err := g.cfg.Poller.PollOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sensorsResponse{OK: true, Data: res.Data, TS: res.Timestamp, Stored: res.Stored})
}

// GET /api/logs[?limit=n], newest first, at most 200.
func (g *Gateway) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxLogs, 1, maxLogs)
	logs, err := g.cfg.Logs.RecentLogs(r.Context(), limit)
	if err != nil {
		g.log.Error("list logs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{OK: false, Error: err.Error()})
		return
	}
	if logs == nil {
		logs = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{OK: true, Logs: logs})
}

// GET /api/indicators
func (g *Gateway) HandleIndicators(w http.ResponseWriter, r *http.Request) {
	snap, err := g.cfg.KPIs.Compute(r.Context(), g.cfg.KPIWindow)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, indicatorsResponse{OK: true, KPIs: kpis{
		AvgSoilLast24h:  snap.AverageSoilMoisture,
		IrrigationHours: snap.EstimatedIrrigationHours,
	}})
}

// GET /api/readings?sensor=soil&minutes=60&limit=500
func (g *Gateway) HandleReadings(w http.ResponseWriter, r *http.Request) {
	sensor := strings.TrimSpace(r.URL.Query().Get("sensor"))
	minutes := queryInt(r, "minutes", defaultReadingMins, 1, maxReadingMins)
	limit := queryInt(r, "limit", defaultReadingRows, 1, maxReadingRows)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	since := g.cfg.Now().Add(-time.Duration(minutes) * time.Minute)
	rows, err := g.cfg.Readings.RecentReadings(ctx, sensor, since, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{OK: false, Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []model.Reading{}
	}
	writeJSON(w, http.StatusOK, readingsResponse{OK: true, Sensor: sensor, Readings: rows})
}

func (g *Gateway) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{OK: true, Msg: "SmartFarm gateway online"})
}

// queryInt legge un intero, def se assente o non valido, limitato a [lo, hi].
func queryInt(r *http.Request, key string, def, lo, hi int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
