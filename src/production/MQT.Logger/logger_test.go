package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	l.WithComponent("pipeline").WithRequestID("req-1").WithError(errors.New("boom")).Info("ingest failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "ingest failed", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewLogger_Level(t *testing.T) {
	l := NewLogger(&config.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"})
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	l = NewLogger(&config.LoggingConfig{Level: "nonsense", Format: "text"})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").Warn("ignored")
	})
}
