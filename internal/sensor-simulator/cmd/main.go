package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	sensorSimulator "github.com/LeonardoBeccarini/smartfarm_gateway/internal/sensor-simulator"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "esp32-sim")

	port := getenv("PORT", "8081")
	decay := getenvFloat("DECAY_PER_MIN", 0.1)
	latency := time.Duration(getenvFloat("LATENCY_MS", 0)) * time.Millisecond
	drop := getenvFloat("DROP_RATE", 0)

	sim := sensorSimulator.NewSensorSimulator(
		sensorSimulator.NewDataGenerator(decay, time.Now().UnixNano()),
		sensorSimulator.Options{
			Latency:  latency,
			DropRate: drop,
			Seed:     time.Now().UnixNano(),
			Logger:   logger,
		},
	)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("simulator listening", "addr", srv.Addr, "decay_per_min", decay, "latency", latency, "drop_rate", drop)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
