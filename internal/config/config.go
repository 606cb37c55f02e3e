package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the telemetry pipeline
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Predict  PredictConfig  `yaml:"predict"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the document store backend
type StoreConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path"`
}

// MQTTConfig contains field-gateway bridge settings
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BrokerURL   string        `yaml:"broker_url"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// PredictConfig contains ML service connection settings
type PredictConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig contains per-session pipeline settings
type PipelineConfig struct {
	UserID          string        `yaml:"user_id"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file. A .env file in the
// working directory is folded into the environment first, then
// environment variables override the file's values.
func LoadConfig(path string) (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "telemetry.db"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "agrisense-pipeline"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "agrisense/telemetry"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30 * time.Second
	}
	if c.MQTT.PingTimeout == 0 {
		c.MQTT.PingTimeout = 10 * time.Second
	}
	if c.Predict.Timeout == 0 {
		c.Predict.Timeout = 15 * time.Second
	}
	if c.Pipeline.SummaryInterval == 0 {
		c.Pipeline.SummaryInterval = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		c.MQTT.BrokerURL = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("PREDICT_BASE_URL"); v != "" {
		c.Predict.BaseURL = v
	}
	if v := os.Getenv("PIPELINE_USER_ID"); v != "" {
		c.Pipeline.UserID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Store.Backend != "sqlite" && c.Store.Backend != "memory" {
		return fmt.Errorf("store backend must be sqlite or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for the sqlite backend")
	}
	if c.Predict.BaseURL == "" {
		return fmt.Errorf("prediction service base URL is required")
	}
	if !strings.HasPrefix(c.Predict.BaseURL, "http://") && !strings.HasPrefix(c.Predict.BaseURL, "https://") {
		return fmt.Errorf("prediction service base URL must start with http:// or https://")
	}
	if c.Pipeline.UserID == "" {
		return fmt.Errorf("pipeline user ID is required")
	}
	if c.Pipeline.SummaryInterval < 10*time.Second {
		return fmt.Errorf("summary interval must be at least 10 seconds")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required when the bridge is enabled")
	}
	return nil
}

// String returns a safe string representation (hides the MQTT password)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %+v, Store: %+v, MQTT: [Broker=%s, Topic=%s, Password=%s], Predict: %+v, Pipeline: %+v, Logging: %+v}",
		c.Server,
		c.Store,
		c.MQTT.BrokerURL,
		c.MQTT.Topic,
		maskSecret(c.MQTT.Password),
		c.Predict,
		c.Pipeline,
		c.Logging,
	)
}

// maskSecret masks all but the first 2 characters of a secret
func maskSecret(s string) string {
	if len(s) <= 2 {
		return "****"
	}
	return s[:2] + "****"
}
