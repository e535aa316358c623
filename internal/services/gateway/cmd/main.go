package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/device"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/dispatcher"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/ingestor"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/kpi"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartfarm_gateway/internal/storage"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/dedup"
	"github.com/LeonardoBeccarini/smartfarm_gateway/pkg/rabbitmq"
)

var version = "dev"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "smartfarm-gateway",
		Short: "SmartFarm device gateway",
		Long:  "HTTP gateway in front of the SmartFarm field controller: actuator commands with retry and audit, sensor ingestion, KPIs.",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("smartfarm-gateway " + version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// .env opzionale, in produzione non c'è
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	// ---- Storage ----
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	checks := map[string]app.Check{"sqlite": db.Ping}

	var (
		readings interface {
			ingestor.ReadingStore
			kpi.ReadingStats
			app.ReadingReader
		} = db
		audit  dispatcher.AuditLog = db
		mirror *persistence.AuditMirror
	)

	// ---- Influx (opzionale) ----
	if cfg.influxEnabled() {
		icfg := persistence.InfluxConfig{URL: cfg.Influx.URL, Token: cfg.Influx.Token, Org: cfg.Influx.Org, Bucket: cfg.Influx.Bucket}
		client, err := persistence.NewInfluxClient(icfg)
		if err != nil {
			return err
		}
		defer client.Close()
		checks["influx"] = func(ctx context.Context) error { return persistence.PingInflux(ctx, client) }

		if cfg.Storage.ReadingBackend == "influx" {
			readings = persistence.NewInfluxReadingStore(client, icfg)
			logger.Info("readings stored in influx", "bucket", icfg.Bucket)
		}
		if cfg.Influx.AuditMirror {
			mirror = newAuditMirror(client, icfg, logger)
			defer func() {
				mirror.Flush()
				logger.Info("audit mirror flushed", "written", mirror.Written())
			}()
			checks["influx_audit"] = mirror.Check
			audit = persistence.NewMirroredLog(db, mirror)
		}
	}

	m := metrics.New()

	// ---- Device ----
	breaker := device.NewBreaker("esp32", cfg.Device.BreakerFailures, time.Duration(cfg.Device.BreakerOpenMs)*time.Millisecond)
	dev := device.NewClient(cfg.Device.Base, time.Duration(cfg.Device.TimeoutMs)*time.Millisecond, breaker)

	// ---- MQTT (opzionale) ----
	var (
		mqttClient mqtt.Client
		telemetry  rabbitmq.IPublisher
		outcomes   rabbitmq.IPublisher
	)
	mqttCfg := rabbitmq.RabbitMQConfig{
		Host: cfg.MQTT.Host, Port: cfg.MQTT.Port, User: cfg.MQTT.User,
		Password: cfg.MQTT.Password, ClientID: cfg.MQTT.ClientID,
	}
	if mqttCfg.Enabled() {
		mqttClient, err = rabbitmq.NewRabbitMQConn(ctx, &mqttCfg, logger)
		if err != nil {
			return err
		}
		telemetry = rabbitmq.NewPublisher(mqttClient, cfg.MQTT.TelemetryTopic, 0, logger)
		outcomes = rabbitmq.NewPublisher(mqttClient, cfg.MQTT.OutcomeTopic, 1, logger)
		checks["mqtt"] = func(context.Context) error {
			if !mqttClient.IsConnectionOpen() {
				return errors.New("mqtt not connected")
			}
			return nil
		}
	}

	// ---- Core ----
	disp := dispatcher.New(dev, audit, dispatcher.Config{Logger: logger, Publisher: outcomes, Metrics: m})
	ing := ingestor.New(dev, readings, audit, ingestor.Options{Logger: logger, Publisher: telemetry, Metrics: m})
	agg := kpi.New(readings, db,
		kpi.WithMinutesPerEvent(cfg.KPIMinutesPerEvent),
		kpi.WithLogger(logger),
		kpi.WithMetrics(m),
	)

	gw := app.NewGateway(app.Config{
		Dispatcher:   disp,
		Poller:       ing,
		Logs:         db,
		Readings:     readings,
		KPIs:         agg,
		JWTSecret:    cfg.JWTSecret,
		AllowOrigins: cfg.CORSOrigins,
		BreakerState: dev.BreakerState,
		Checks:       checks,
		Logger:       logger,
		Metrics:      m,
	})

	// ---- Background loops ----
	if cfg.PollInterval > 0 {
		go ing.Run(ctx, cfg.PollInterval)
		logger.Info("telemetry poller started", "interval", cfg.PollInterval.String())
	}
	if mqttClient != nil && cfg.MQTT.CommandTopic != "" {
		consumer := rabbitmq.NewConsumer(mqttClient, cfg.MQTT.CommandTopic, 1, logger)
		listener := dispatcher.NewCommandListener(consumer, disp, dedup.New(10*time.Minute, 10000), logger)
		go func() {
			if err := listener.Start(ctx); err != nil {
				logger.Error("command listener stopped", "error", err)
			}
		}()
	}
	if cfg.GRPCPort != "" {
		hs := app.NewHealthService(gw, 5*time.Second)
		go func() {
			if err := hs.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
				logger.Error("grpc health server stopped", "error", err)
			}
		}()
	}

	// ---- HTTP ----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// un dispatch può durare 3 tentativi da 3s più le attese
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", srv.Addr, "device", dev.Base(), "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newAuditMirror(client influxdb2.Client, cfg persistence.InfluxConfig, logger *slog.Logger) *persistence.AuditMirror {
	return persistence.NewAuditMirror(client.WriteAPI(cfg.Org, cfg.Bucket), logger)
}
