package mqterrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestFailure_Is(t *testing.T) {
	cause := errors.New("connection refused")
	dev := "esp32-01"
	err := error(&IngestFailure{Kind: ErrStorageUnavailable, Reason: "database error during HTTP ingest", DeviceID: &dev, Err: cause})

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrValidation)

	var failure *IngestFailure
	wrapped := fmt.Errorf("handler: %w", err)
	if assert.ErrorAs(t, wrapped, &failure) {
		assert.Equal(t, "esp32-01", *failure.DeviceID)
	}
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStorage(t *testing.T) {
	assert.NoError(t, Storage("insert", nil))

	cause := errors.New("disk full")
	err := Storage("insert telemetry", cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "temperature must be a number", Message(Validation("temperature must be a number")))
	assert.Equal(t, "invalid timestamp format: abc", Message(Parse("invalid timestamp format: %s", "abc")))
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
}
