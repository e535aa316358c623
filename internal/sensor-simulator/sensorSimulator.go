// Package sensor_simulator emulates the ESP32 field controller: GET /sensors
// returns the current readings and GET /actuator drives its outputs.
package sensor_simulator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model/entities"
)

// Uscite del controller.
var outputs = []string{"LED", "FAN", "FEED", "WATER", "PUMP"}

const (
	autoOnBelow  = 30.0 // % suolo: in AUTO accende l'acqua sotto questa soglia
	autoOffAbove = 60.0
)

type Options struct {
	Latency  time.Duration // ritardo artificiale su ogni risposta
	DropRate float64       // probabilità [0..1] di chiudere la connessione senza risposta
	Seed     int64
	Logger   *slog.Logger
}

type SensorSimulator struct {
	mu        sync.Mutex
	state     map[string]entities.ActuatorState
	auto      bool
	generator *DataGenerator
	opts      Options
	rng       *rand.Rand
	log       *slog.Logger
}

func NewSensorSimulator(gen *DataGenerator, opts Options) *SensorSimulator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	st := make(map[string]entities.ActuatorState, len(outputs))
	for _, o := range outputs {
		st[o] = entities.StateOff
	}
	return &SensorSimulator{
		state:     st,
		generator: gen,
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		log:       opts.Logger.With("component", "esp32-sim"),
	}
}

func (s *SensorSimulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sensors", s.faulty(s.handleSensors))
	mux.HandleFunc("/actuator", s.faulty(s.handleActuator))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	return mux
}

// faulty applica latenza e perdita di connessione configurate.
func (s *SensorSimulator) faulty(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}
		if s.shouldDrop() {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
		}
		next(w, r)
	}
}

func (s *SensorSimulator) shouldDrop() bool {
	if s.opts.DropRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.opts.DropRate
}

func (s *SensorSimulator) handleSensors(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	pumpOn := s.state["WATER"] == entities.StateOn || s.state["PUMP"] == entities.StateOn
	env := s.generator.Next(pumpOn)
	if s.auto {
		switch {
		case env.Soil < autoOnBelow:
			s.state["WATER"] = entities.StateOn
		case env.Soil > autoOffAbove:
			s.state["WATER"] = entities.StateOff
		}
	}
	body := map[string]any{
		"temperature": env.Temperature,
		"soil":        env.Soil,
		"light":       env.Light,
		"mode":        s.mode(),
	}
	for k, v := range s.state {
		body[strings.ToLower(k)] = string(v)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// GET /actuator?cmd=WATER&value=ON. Senza value il comando commuta l'uscita.
func (s *SensorSimulator) handleActuator(w http.ResponseWriter, r *http.Request) {
	cmd := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("cmd")))
	value := r.URL.Query().Get("value")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "":
		http.Error(w, "missing cmd", http.StatusBadRequest)
		return
	case "STATUS":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.snapshotLocked())
		return
	case "AUTO":
		s.auto = !s.auto
		if st, ok := entities.ParseActuatorState(value); ok {
			s.auto = st == entities.StateOn
		}
	case "ALL_ON", "ALL_OFF":
		target := entities.StateOff
		if cmd == "ALL_ON" {
			target = entities.StateOn
		}
		for _, o := range outputs {
			s.state[o] = target
		}
	default:
		cur, known := s.state[cmd]
		if !known {
			http.Error(w, "unknown cmd "+cmd, http.StatusBadRequest)
			return
		}
		next := entities.StateOn
		if cur == entities.StateOn {
			next = entities.StateOff
		}
		if value != "" {
			st, ok := entities.ParseActuatorState(value)
			if !ok {
				http.Error(w, "invalid value "+value, http.StatusBadRequest)
				return
			}
			next = st
		}
		s.state[cmd] = next
	}

	s.log.Info("actuator command", "cmd", cmd, "value", value, "mode", s.mode())
	_, _ = fmt.Fprintf(w, "%s %s", cmd, s.describeLocked(cmd))
}

func (s *SensorSimulator) mode() string {
	if s.auto {
		return "auto"
	}
	return "manual"
}

func (s *SensorSimulator) describeLocked(cmd string) string {
	switch cmd {
	case "AUTO":
		return strings.ToUpper(s.mode())
	case "ALL_ON":
		return "ON"
	case "ALL_OFF":
		return "OFF"
	}
	return string(s.state[cmd])
}

func (s *SensorSimulator) snapshotLocked() map[string]string {
	out := make(map[string]string, len(s.state)+1)
	for k, v := range s.state {
		out[strings.ToLower(k)] = string(v)
	}
	out["mode"] = s.mode()
	return out
}

// State returns the output state, for tests and logging.
func (s *SensorSimulator) State(output string) entities.ActuatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[strings.ToUpper(output)]
}
