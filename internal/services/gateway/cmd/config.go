package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config: default -> file YAML (--config) -> variabili d'ambiente.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Device struct {
		Base            string `yaml:"base"`
		TimeoutMs       int    `yaml:"timeout_ms"`
		BreakerFailures int    `yaml:"breaker_failures"`
		BreakerOpenMs   int    `yaml:"breaker_open_ms"`
	} `yaml:"device"`

	PollInterval time.Duration `yaml:"poll_interval"`

	Storage struct {
		Path           string `yaml:"path"`
		ReadingBackend string `yaml:"reading_backend"` // sqlite | influx
	} `yaml:"storage"`

	Influx struct {
		URL         string `yaml:"url"`
		Token       string `yaml:"token"`
		Org         string `yaml:"org"`
		Bucket      string `yaml:"bucket"`
		AuditMirror bool   `yaml:"audit_mirror"`
	} `yaml:"influx"`

	MQTT struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		ClientID       string `yaml:"client_id"`
		TelemetryTopic string `yaml:"telemetry_topic"`
		CommandTopic   string `yaml:"command_topic"`
		OutcomeTopic   string `yaml:"outcome_topic"`
	} `yaml:"mqtt"`

	JWTSecret          string   `yaml:"jwt_secret"`
	CORSOrigins        []string `yaml:"cors_origins"`
	KPIMinutesPerEvent float64  `yaml:"kpi_minutes_per_event"`
	GRPCPort           string   `yaml:"grpc_port"`
}

func defaultConfig() Config {
	var c Config
	c.Port = "3001"
	c.LogLevel = "info"
	c.Device.Base = "http://192.168.4.1"
	c.Device.TimeoutMs = 3000
	c.Device.BreakerFailures = 5
	c.Device.BreakerOpenMs = 10000
	c.PollInterval = 2 * time.Second
	c.Storage.Path = "data/smartfarm.db"
	c.Storage.ReadingBackend = "sqlite"
	c.Influx.Org = "smartfarm"
	c.Influx.Bucket = "smartfarm"
	c.MQTT.Port = 1883
	c.MQTT.TelemetryTopic = "smartfarm/telemetry"
	c.MQTT.CommandTopic = "smartfarm/commands"
	c.MQTT.OutcomeTopic = "smartfarm/commands/outcome"
	c.KPIMinutesPerEvent = 5
	return c
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return d
}

func getenvFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return d
}

func getenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return d
}

// getenvDuration accetta "2s", "500ms" oppure un intero in millisecondi.
func getenvDuration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return d
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.LogLevel = getenv("GATEWAY_LOG_LEVEL", cfg.LogLevel)
	cfg.Device.Base = getenv("ESP32_BASE", cfg.Device.Base)
	cfg.Device.TimeoutMs = getenvInt("DEVICE_TIMEOUT_MS", cfg.Device.TimeoutMs)
	cfg.Device.BreakerFailures = getenvInt("CB_FAILURES", cfg.Device.BreakerFailures)
	cfg.Device.BreakerOpenMs = getenvInt("CB_OPEN_MS", cfg.Device.BreakerOpenMs)
	cfg.PollInterval = getenvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.Storage.Path = getenv("DB_PATH", cfg.Storage.Path)
	cfg.Storage.ReadingBackend = strings.ToLower(getenv("READING_BACKEND", cfg.Storage.ReadingBackend))
	cfg.Influx.URL = getenv("INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = getenv("INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getenv("INFLUX_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = getenv("INFLUX_BUCKET", cfg.Influx.Bucket)
	cfg.Influx.AuditMirror = getenvBool("INFLUX_AUDIT_MIRROR", cfg.Influx.AuditMirror)
	cfg.MQTT.Host = getenv("MQTT_HOST", cfg.MQTT.Host)
	cfg.MQTT.Port = getenvInt("MQTT_PORT", cfg.MQTT.Port)
	cfg.MQTT.User = getenv("MQTT_USER", cfg.MQTT.User)
	cfg.MQTT.Password = getenv("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.ClientID = getenv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.TelemetryTopic = getenv("MQTT_TELEMETRY_TOPIC", cfg.MQTT.TelemetryTopic)
	cfg.MQTT.CommandTopic = getenv("MQTT_COMMAND_TOPIC", cfg.MQTT.CommandTopic)
	cfg.MQTT.OutcomeTopic = getenv("MQTT_OUTCOME_TOPIC", cfg.MQTT.OutcomeTopic)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	if v := getenv("CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	cfg.KPIMinutesPerEvent = getenvFloat("KPI_MINUTES_PER_EVENT", cfg.KPIMinutesPerEvent)
	cfg.GRPCPort = getenv("GRPC_PORT", cfg.GRPCPort)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Device.Base == "" {
		return fmt.Errorf("config: ESP32_BASE is required")
	}
	if c.Device.TimeoutMs <= 0 {
		return fmt.Errorf("config: DEVICE_TIMEOUT_MS must be positive")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config: POLL_INTERVAL must not be negative")
	}
	switch c.Storage.ReadingBackend {
	case "sqlite":
	case "influx":
		if c.Influx.URL == "" || c.Influx.Token == "" {
			return fmt.Errorf("config: READING_BACKEND=influx needs INFLUX_URL and INFLUX_TOKEN")
		}
	default:
		return fmt.Errorf("config: unknown READING_BACKEND %q", c.Storage.ReadingBackend)
	}
	if c.KPIMinutesPerEvent <= 0 {
		return fmt.Errorf("config: KPI_MINUTES_PER_EVENT must be positive")
	}
	return nil
}

func (c Config) influxEnabled() bool {
	return c.Influx.URL != "" && c.Influx.Token != ""
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
