package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/model"
)

// ---------- Request payloads ----------

type actuatorRequest struct {
	Cmd   string          `json:"cmd"`
	Value json.RawMessage `json:"value,omitempty"`
	User  string          `json:"user,omitempty"`
}

// value accetta stringa, numero o bool; null e assente diventano "".
func (a actuatorRequest) value() (string, error) {
	raw := strings.TrimSpace(string(a.Value))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(a.Value, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var v any
	if err := json.Unmarshal(a.Value, &v); err != nil {
		return "", err
	}
	switch v.(type) {
	case float64, bool:
		return raw, nil
	}
	return "", fmt.Errorf("value must be a string, number or boolean")
}

// ---------- Responses ----------

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type actuatorResponse struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Result string `json:"result"`
}

type sensorsResponse struct {
	OK     bool           `json:"ok"`
	Data   map[string]any `json:"data"`
	TS     time.Time      `json:"ts"`
	Stored bool           `json:"stored"`
}

type logsResponse struct {
	OK   bool             `json:"ok"`
	Logs []model.LogEntry `json:"logs"`
}

type kpis struct {
	AvgSoilLast24h  float64 `json:"avg_soil_last_24h"`
	IrrigationHours float64 `json:"irrigation_hours"`
}

type indicatorsResponse struct {
	OK   bool `json:"ok"`
	KPIs kpis `json:"kpis"`
}

type readingsResponse struct {
	OK       bool            `json:"ok"`
	Sensor   string          `json:"sensor,omitempty"`
	Readings []model.Reading `json:"readings"`
}

type rootResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker"`
}

type readyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}
