package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/device"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/dispatcher"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/ingestor"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/storage"
)

type fakeDispatcher struct {
	got []model.CommandRequest
	res model.DispatchResult
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req model.CommandRequest) (model.DispatchResult, error) {
	f.got = append(f.got, req)
	if strings.TrimSpace(req.Command) == "" {
		return model.DispatchResult{}, dispatcher.ErrInvalidRequest
	}
	return f.res, f.err
}

type fakePoller struct {
	res ingestor.IngestResult
	err error
}

func (f fakePoller) PollOnce(context.Context) (ingestor.IngestResult, error) { return f.res, f.err }

type fakeLogs struct {
	logs  []model.LogEntry
	err   error
	limit int
}

func (f *fakeLogs) RecentLogs(_ context.Context, limit int) ([]model.LogEntry, error) {
	f.limit = limit
	return f.logs, f.err
}

type fakeReadings struct {
	sensor string
	since  time.Time
	limit  int
	err    error
}

func (f *fakeReadings) RecentReadings(_ context.Context, sensor string, since time.Time, limit int) ([]model.Reading, error) {
	f.sensor, f.since, f.limit = sensor, since, limit
	return nil, f.err
}

type fakeKPIs struct {
	snap model.KPISnapshot
	err  error
}

func (f fakeKPIs) Compute(context.Context, time.Duration) (model.KPISnapshot, error) { return f.snap, f.err }

type deps struct {
	disp     *fakeDispatcher
	poller   fakePoller
	logs     *fakeLogs
	readings *fakeReadings
	kpis     fakeKPIs
	secret   string
	checks   map[string]Check
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDeps() *deps {
	return &deps{disp: &fakeDispatcher{}, logs: &fakeLogs{}, readings: &fakeReadings{}}
}

func (d *deps) router() http.Handler {
	return NewGateway(Config{
		Dispatcher:   d.disp,
		Poller:       d.poller,
		Logs:         d.logs,
		Readings:     d.readings,
		KPIs:         d.kpis,
		JWTSecret:    d.secret,
		Checks:       d.checks,
		BreakerState: func() string { return "closed" },
		Metrics:      metrics.New(),
		Now:          func() time.Time { return fixedNow },
	}).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestActuator_Success(t *testing.T) {
	d := newTestDeps()
	d.disp.res = model.DispatchResult{OK: true, Status: 200, Result: "LED ON", Attempts: 1}

	rec, out := do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":"LED","value":"ON","user":"ana"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "status": 200.0, "result": "LED ON"}, out)
	require.Len(t, d.disp.got, 1)
	assert.Equal(t, model.CommandRequest{Command: "LED", Value: "ON", Actor: "ana"}, d.disp.got[0])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestActuator_NumericValueAndMissingUser(t *testing.T) {
	d := newTestDeps()
	d.disp.res = model.DispatchResult{OK: true, Status: 200}

	rec, _ := do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":"PWM","value":128}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CommandRequest{Command: "PWM", Value: "128"}, d.disp.got[0])
}

func TestActuator_MissingCmd(t *testing.T) {
	d := newTestDeps()
	rec, out := do(t, d.router(), http.MethodPost, "/api/actuator", `{"value":"ON"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "cmd required"}, out)
}

func TestActuator_BadBody(t *testing.T) {
	d := newTestDeps()
	rec, out := do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["ok"])
	assert.Empty(t, d.disp.got)

	rec, _ = do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":"LED","value":{"a":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.disp.got)
}

func TestActuator_Exhausted(t *testing.T) {
	d := newTestDeps()
	d.disp.res = model.DispatchResult{OK: false, Error: "send actuator command: device timeout", Attempts: 3}

	rec, out := do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":"WATER","value":"ON"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "send actuator command: device timeout"}, out)
}

func TestActuator_AuditFailureStillAnswers(t *testing.T) {
	d := newTestDeps()
	d.disp.res = model.DispatchResult{OK: true, Status: 200, Result: "ok"}
	d.disp.err = fmt.Errorf("%w: disk full", dispatcher.ErrAuditWrite)

	rec, out := do(t, d.router(), http.MethodPost, "/api/actuator", `{"cmd":"LED"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
}

func TestActuator_WrongMethod(t *testing.T) {
	rec, out := do(t, newTestDeps().router(), http.MethodGet, "/api/actuator", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestSensors(t *testing.T) {
	d := newTestDeps()
	d.poller.res = ingestor.IngestResult{
		Data:      map[string]any{"soil": json.Number("41"), "mode": "auto"},
		Timestamp: fixedNow,
		Stored:    false,
	}

	rec, out := do(t, d.router(), http.MethodGet, "/api/sensors", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, false, out["stored"])
	assert.Equal(t, "2025-03-01T10:00:00Z", out["ts"])
	assert.Equal(t, map[string]any{"soil": 41.0, "mode": "auto"}, out["data"])
}

func TestSensors_UpstreamFailure(t *testing.T) {
	d := newTestDeps()
	d.poller.err = fmt.Errorf("%w: %w", ingestor.ErrUpstream, device.ErrBadStatus)

	rec, out := do(t, d.router(), http.MethodGet, "/api/sensors", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "upstream failure")
}

func TestLogs(t *testing.T) {
	d := newTestDeps()
	d.logs.logs = []model.LogEntry{{ID: 2, Actor: "ana", Action: model.ActionActuator, Payload: `{"cmd":"LED"}`, Result: "ok", Timestamp: fixedNow}}

	rec, out := do(t, d.router(), http.MethodGet, "/api/logs?limit=5000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLogs, d.logs.limit)
	logs := out["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "ACTUATOR", logs[0].(map[string]any)["action"])
	assert.Equal(t, "ana", logs[0].(map[string]any)["user"])
}

func TestLogs_EmptyIsArray(t *testing.T) {
	rec, _ := do(t, newTestDeps().router(), http.MethodGet, "/api/logs", "")
	assert.JSONEq(t, `{"ok":true,"logs":[]}`, rec.Body.String())
}

func TestLogs_StoreFailure(t *testing.T) {
	d := newTestDeps()
	d.logs.err = fmt.Errorf("%w: locked", storage.ErrStoreUnavailable)
	rec, out := do(t, d.router(), http.MethodGet, "/api/logs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestIndicators(t *testing.T) {
	d := newTestDeps()
	d.kpis.snap = model.KPISnapshot{AverageSoilMoisture: 42.37, EstimatedIrrigationHours: 0.83}

	rec, _ := do(t, d.router(), http.MethodGet, "/api/indicators", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"kpis":{"avg_soil_last_24h":42.37,"irrigation_hours":0.83}}`, rec.Body.String())

	d.kpis.err = errors.New("kpi: store unavailable")
	rec, out := do(t, d.router(), http.MethodGet, "/api/indicators", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestReadings_QueryParams(t *testing.T) {
	d := newTestDeps()
	rec, out := do(t, d.router(), http.MethodGet, "/api/readings?sensor=soil&minutes=30&limit=0", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "soil", d.readings.sensor)
	assert.Equal(t, fixedNow.Add(-30*time.Minute), d.readings.since)
	assert.Equal(t, 1, d.readings.limit)
	assert.Equal(t, []any{}, out["readings"])
}

func TestRootHealthReady(t *testing.T) {
	d := newTestDeps()
	d.checks = map[string]Check{
		"sqlite": func(context.Context) error { return nil },
		"influx": func(context.Context) error { return errors.New("connection refused") },
	}
	h := d.router()

	rec, out := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])

	rec, out = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", out["breaker"])

	rec, out = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"sqlite": "ok", "influx": "connection refused"}, out["checks"])
}

func TestNotFound(t *testing.T) {
	rec, out := do(t, newTestDeps().router(), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestAuth(t *testing.T) {
	d := newTestDeps()
	d.secret = "s3cret"
	d.disp.res = model.DispatchResult{OK: true, Status: 200}
	h := d.router()

	rec, _ := do(t, h, http.MethodPost, "/api/actuator", `{"cmd":"LED"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/actuator", `{"cmd":"LED"}`, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := signToken("other", Claims{User: "mallory"})
	require.NoError(t, err)
	rec, _ = do(t, h, http.MethodPost, "/api/actuator", `{"cmd":"LED"}`, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, d.disp.got)

	tok, err := signToken("s3cret", Claims{User: "professor", Role: "professor"})
	require.NoError(t, err)
	rec, _ = do(t, h, http.MethodPost, "/api/actuator", `{"cmd":"LED"}`, "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.disp.got, 1)
	assert.Equal(t, "professor", d.disp.got[0].Actor)

	// il campo user del body non sostituisce l'utente del token
	rec, _ = do(t, h, http.MethodPost, "/api/actuator", `{"cmd":"LED","user":"mallory"}`, "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.disp.got, 2)
	assert.Equal(t, "professor", d.disp.got[1].Actor)

	// le rotte fuori da /api restano pubbliche
	rec, _ = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func signToken(secret string, c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/actuator", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newTestDeps().router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestDeps().router()
	do(t, h, http.MethodGet, "/", "")
	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gateway_http_requests_total{route="/",status="200"} 1`)
}
