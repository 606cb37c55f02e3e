package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/config"
	"github.com/agrisense/telemetry/internal/pipeline"
	"github.com/agrisense/telemetry/internal/predict"
	"github.com/agrisense/telemetry/internal/server"
	"github.com/agrisense/telemetry/internal/source"
	"github.com/agrisense/telemetry/internal/store"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "configs/pipeline.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().
		Str("version", version).
		Str("addr", cfg.Server.ListenAddr).
		Msg("Starting telemetry pipeline")

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	predictor := predict.NewClient(cfg.Predict.BaseURL, cfg.Predict.Timeout, logger)
	feed := source.NewFeed(st, logger)
	hub := server.NewHub(logger)
	go hub.Run()

	manager := pipeline.NewManager(st, feed, predictor, pipeline.Options{
		SummaryInterval: cfg.Pipeline.SummaryInterval,
		OnAccepted:      hub.BroadcastReading,
		OnPrediction:    hub.BroadcastPrediction,
	}, logger)

	if _, err := manager.SetUser(context.Background(), cfg.Pipeline.UserID); err != nil {
		log.Fatalf("Failed to start pipeline session: %v", err)
	}

	var bridge *source.MQTTBridge
	if cfg.MQTT.Enabled {
		bridge = source.NewMQTTBridge(source.MQTTConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Topic:       cfg.MQTT.Topic,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			KeepAlive:   cfg.MQTT.KeepAlive,
			PingTimeout: cfg.MQTT.PingTimeout,
		}, st, logger)
		if err := bridge.Start(); err != nil {
			logger.Error().Err(err).Msg("MQTT bridge failed to start, continuing without it")
			bridge = nil
		}
	}

	mux := http.NewServeMux()
	apiHandler := server.NewAPIHandler(st, manager, predictor, logger)
	apiHandler.Register(mux)
	mux.HandleFunc("/ws", hub.HandleWS)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	if bridge != nil {
		bridge.Stop()
	}

	// Drain in-flight requests before tearing down what they depend on.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	manager.Close()
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	}

	logger.Info().Msg("Pipeline stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func openStore(cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	if cfg.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(cfg.Path, logger)
}
