package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/store"
)

// MQTTConfig holds broker connection settings for the field-gateway
// bridge.
type MQTTConfig struct {
	BrokerURL   string        `yaml:"broker_url"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// MQTTBridge subscribes to the field gateway's telemetry topic and
// mirrors each published document into the shared sensorData path,
// where the feed picks it up like any other source.
type MQTTBridge struct {
	client mqtt.Client
	store  store.Store
	topic  string
	logger zerolog.Logger
}

func NewMQTTBridge(cfg MQTTConfig, st store.Store, logger zerolog.Logger) *MQTTBridge {
	b := &MQTTBridge{
		store:  st,
		topic:  cfg.Topic,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetPingTimeout(cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.logger.Info().Str("topic", b.topic).Msg("MQTT connected, subscribing")
			if token := c.Subscribe(b.topic, 1, b.onMessage); token.Wait() && token.Error() != nil {
				b.logger.Error().Err(token.Error()).Msg("MQTT subscription failed")
			}
		})

	b.client = mqtt.NewClient(opts)
	return b
}

// Start connects to the broker. Subscription happens in the on-connect
// handler so it survives reconnects.
func (b *MQTTBridge) Start() error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.client.Disconnect(250)
	b.logger.Info().Msg("MQTT bridge stopped")
}

func (b *MQTTBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if !json.Valid(msg.Payload()) {
		b.logger.Warn().Str("topic", msg.Topic()).Msg("Dropping non-JSON MQTT payload")
		return
	}
	var doc json.RawMessage = msg.Payload()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Write(ctx, store.SensorDataPath, doc); err != nil {
		b.logger.Error().Err(err).Msg("Failed to mirror MQTT payload into store")
	}
}
