package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen_addr: ":9090"
  shutdown_timeout: 5s

store:
  backend: "sqlite"
  path: "/tmp/telemetry-test.db"

mqtt:
  enabled: true
  broker_url: "tcp://broker.local:1883"
  client_id: "test-pipeline"
  topic: "farm/telemetry"
  keep_alive: 20s

predict:
  base_url: "http://ml.local:5000"
  timeout: 8s

pipeline:
  user_id: "farm-01"
  summary_interval: 2m

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Server.ListenAddr = %v, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/tmp/telemetry-test.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.MQTT.BrokerURL != "tcp://broker.local:1883" || cfg.MQTT.KeepAlive != 20*time.Second {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Predict.BaseURL != "http://ml.local:5000" || cfg.Predict.Timeout != 8*time.Second {
		t.Errorf("Predict = %+v", cfg.Predict)
	}
	if cfg.Pipeline.UserID != "farm-01" || cfg.Pipeline.SummaryInterval != 2*time.Minute {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
predict:
  base_url: "http://ml.local:5000"

pipeline:
  user_id: "farm-01"
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Expected default listen addr, got %v", cfg.Server.ListenAddr)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "telemetry.db" {
		t.Errorf("Expected store defaults, got %+v", cfg.Store)
	}
	if cfg.Pipeline.SummaryInterval != 5*time.Minute {
		t.Errorf("Expected default summary interval, got %v", cfg.Pipeline.SummaryInterval)
	}
	if cfg.Predict.Timeout != 15*time.Second {
		t.Errorf("Expected default predict timeout, got %v", cfg.Predict.Timeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Expected logging defaults, got %+v", cfg.Logging)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
predict:
  base_url: "http://ml.local:5000"

pipeline:
  user_id: "farm-01"
`)

	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("PIPELINE_USER_ID", "farm-02")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("Expected env override :7070, got %v", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.UserID != "farm-02" {
		t.Errorf("Expected env override farm-02, got %v", cfg.Pipeline.UserID)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected env override warn, got %v", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing predict url",
			mutate:  func(c *Config) { c.Predict.BaseURL = "" },
			wantErr: "base URL is required",
		},
		{
			name:    "bad predict scheme",
			mutate:  func(c *Config) { c.Predict.BaseURL = "ftp://ml.local" },
			wantErr: "must start with http",
		},
		{
			name:    "missing user id",
			mutate:  func(c *Config) { c.Pipeline.UserID = "" },
			wantErr: "user ID is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "postgres" },
			wantErr: "backend must be",
		},
		{
			name:    "summary interval too short",
			mutate:  func(c *Config) { c.Pipeline.SummaryInterval = time.Second },
			wantErr: "at least 10 seconds",
		},
		{
			name: "mqtt enabled without broker",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.BrokerURL = ""
			},
			wantErr: "broker URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			cfg.Predict.BaseURL = "http://ml.local:5000"
			cfg.Pipeline.UserID = "farm-01"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.MQTT.Password = "hunter2secret"

	s := cfg.String()
	if strings.Contains(s, "hunter2secret") {
		t.Error("Expected password masked in String()")
	}
	if !strings.Contains(s, "hu****") {
		t.Errorf("Expected masked prefix, got %s", s)
	}
}
