package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/ingestor"
)

// Dipendenze del gateway, iniettate da main.

type Dispatcher interface {
	Dispatch(ctx context.Context, req model.CommandRequest) (model.DispatchResult, error)
}

type Poller interface {
	PollOnce(ctx context.Context) (ingestor.IngestResult, error)
}

type LogReader interface {
	RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error)
}

type ReadingReader interface {
	RecentReadings(ctx context.Context, sensor string, since time.Time, limit int) ([]model.Reading, error)
}

type KPIComputer interface {
	Compute(ctx context.Context, window time.Duration) (model.KPISnapshot, error)
}

// Check is a readiness check; nil error means ready.
type Check func(ctx context.Context) error

type Config struct {
	Dispatcher Dispatcher
	Poller     Poller
	Logs       LogReader
	Readings   ReadingReader
	KPIs       KPIComputer

	KPIWindow    time.Duration // default 24h
	JWTSecret    string        // vuoto: /api senza autenticazione
	AllowOrigins []string      // default "*"
	BreakerState func() string
	Checks       map[string]Check

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Gateway struct {
	cfg      Config
	log      *slog.Logger
	verifier *TokenVerifier
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KPIWindow <= 0 {
		cfg.KPIWindow = 24 * time.Hour
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	g := &Gateway{cfg: cfg, log: cfg.Logger.With("component", "gateway")}
	if cfg.JWTSecret != "" {
		g.verifier = NewTokenVerifier(cfg.JWTSecret)
	}
	return g
}

// Router builds the full HTTP handler.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()
	m := g.cfg.Metrics

	r.Handle("/", m.WrapHandler("/", http.HandlerFunc(g.HandleRoot))).Methods(http.MethodGet)
	r.Handle("/healthz", m.WrapHandler("/healthz", http.HandlerFunc(g.HandleHealth))).Methods(http.MethodGet)
	r.Handle("/readyz", m.WrapHandler("/readyz", http.HandlerFunc(g.HandleReady))).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if g.verifier != nil {
		api.Use(func(next http.Handler) http.Handler { return authMiddleware(g.verifier, next) })
	}
	api.Handle("/actuator", m.WrapHandler("/api/actuator", http.HandlerFunc(g.HandleActuator))).Methods(http.MethodPost)
	api.Handle("/sensors", m.WrapHandler("/api/sensors", http.HandlerFunc(g.HandleSensors))).Methods(http.MethodGet)
	api.Handle("/logs", m.WrapHandler("/api/logs", http.HandlerFunc(g.HandleLogs))).Methods(http.MethodGet)
	api.Handle("/indicators", m.WrapHandler("/api/indicators", http.HandlerFunc(g.HandleIndicators))).Methods(http.MethodGet)
	api.Handle("/readings", m.WrapHandler("/api/readings", http.HandlerFunc(g.HandleReadings))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{OK: false, Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{OK: false, Error: "method not allowed"})
	})

	var h http.Handler = r
	h = loggingMiddleware(g.log, h)
	h = requestIDMiddleware(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(slogRecoveryLogger{g.log}), handlers.PrintRecoveryStack(false))(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(g.cfg.AllowOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
	)(h)
	return h
}

// slogRecoveryLogger adatta slog all'interfaccia di gorilla/handlers.
type slogRecoveryLogger struct{ log *slog.Logger }

func (l slogRecoveryLogger) Println(v ...interface{}) {
	l.log.Error("panic recovered", "panic", v)
}
