package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadApiConfig_Defaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "MQTT_ENABLED", "MQTT_BROKER", "MQTT_PORT", "MQTT_TOPIC", "DEFAULT_DEVICE_ID", "ONLINE_GRACE_SECONDS", "PORT", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadApiConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, defaultDatabaseURL, cfg.Database.URL)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.BrokerPort)
	assert.Equal(t, "Test", cfg.MQTT.Topic)
	assert.Equal(t, "esp32-01", cfg.Telemetry.DefaultDeviceID)
	assert.Equal(t, 60*time.Second, cfg.Telemetry.OnlineGrace)
	assert.Empty(t, cfg.Cache.Addr)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.GetMQTTBrokerURL())
	assert.True(t, cfg.MQTTActive())
}

func TestLoadIngestorConfig_UsesIngestorPort(t *testing.T) {
	t.Setenv("INGESTOR_PORT", "9100")
	t.Setenv("PORT", "8111")

	cfg, err := LoadIngestorConfig()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///tmp/x.db")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("MQTT_BROKER", "broker.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_TLS", "true")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("ONLINE_GRACE_SECONDS", "15")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")

	cfg, err := LoadApiConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///tmp/x.db", cfg.Database.URL)
	assert.False(t, cfg.MQTT.Enabled)
	assert.False(t, cfg.MQTTActive())
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.OnlineGrace)
	assert.Equal(t, "tcps://broker.local:8883", cfg.GetMQTTBrokerURL())
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestGetMQTTBrokerURL_FullURL(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{Broker: "ssl://mq.example:8883", BrokerPort: 1883}}
	assert.Equal(t, "ssl://mq.example:8883", cfg.GetMQTTBrokerURL())
}

func TestMQTTActive_EmptyBroker(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{Enabled: true, Broker: "  "}}
	assert.False(t, cfg.MQTTActive())
}

func TestLoad_InvalidValuesAreReported(t *testing.T) {
	t.Setenv("MQTT_PORT", "not-a-port")
	t.Setenv("MQTT_ENABLED", "maybe")
	t.Setenv("READ_TIMEOUT", "soon")

	_, err := LoadApiConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_PORT")
	assert.Contains(t, err.Error(), "MQTT_ENABLED")
	assert.Contains(t, err.Error(), "READ_TIMEOUT")
}

func TestLoad_QoSOutOfRangeIsReported(t *testing.T) {
	for _, qos := range []string{"256", "3", "-1"} {
		t.Run(qos, func(t *testing.T) {
			t.Setenv("MQTT_QOS", qos)

			_, err := LoadApiConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "MQTT_QOS must be 0, 1 or 2, got "+qos)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{URL: "sqlite://x.db"},
			MQTT:      MQTTConfig{Enabled: true, Broker: "localhost", BrokerPort: 1883, Topic: "t", QueueSize: 1},
			Telemetry: TelemetryConfig{DefaultDeviceID: "d", OnlineGrace: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: "DATABASE_URL"},
		{name: "port out of range", mutate: func(c *Config) { c.MQTT.BrokerPort = 70000 }, wantErr: "MQTT_PORT"},
		{name: "bad qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "MQTT_QOS"},
		{name: "missing topic", mutate: func(c *Config) { c.MQTT.Topic = "" }, wantErr: "MQTT_TOPIC"},
		{name: "missing topic while disabled", mutate: func(c *Config) { c.MQTT.Topic = ""; c.MQTT.Enabled = false }},
		{name: "negative grace", mutate: func(c *Config) { c.Telemetry.OnlineGrace = -time.Second }, wantErr: "ONLINE_GRACE_SECONDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
