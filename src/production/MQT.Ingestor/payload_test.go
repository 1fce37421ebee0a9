package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
)

func TestDecodePayload(t *testing.T) {
	t.Run("non utf8", func(t *testing.T) {
		_, err := DecodePayload([]byte{0xff, 0xfe, '{'})
		var failure *mqterrors.IngestFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, ReasonNonUTF8, failure.Reason)
		assert.ErrorIs(t, err, mqterrors.ErrDecode)
	})

	for _, payload := range []string{"not json", "[1,2]", "null", `"text"`, "{"} {
		t.Run("invalid json "+payload, func(t *testing.T) {
			_, err := DecodePayload([]byte(payload))
			var failure *mqterrors.IngestFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, ReasonInvalidJSON, failure.Reason)
		})
	}

	t.Run("device_id fallback", func(t *testing.T) {
		raw, err := DecodePayload([]byte(`{"deviceId":"","device_id":"alt","ts":1}`))
		require.NoError(t, err)
		assert.JSONEq(t, `"alt"`, string(raw.DeviceID))

		raw, err = DecodePayload([]byte(`{"deviceId":null,"device_id":"alt"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `"alt"`, string(raw.DeviceID))

		for _, falsy := range []string{`0`, `0.0`, `false`, `[]`, `{}`} {
			raw, err = DecodePayload([]byte(`{"deviceId":` + falsy + `,"device_id":"alt"}`))
			require.NoError(t, err)
			assert.JSONEq(t, `"alt"`, string(raw.DeviceID), falsy)
		}

		// a truthy non-string id is kept and rejected later
		raw, err = DecodePayload([]byte(`{"deviceId":7,"device_id":"alt"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `7`, string(raw.DeviceID))

		raw, err = DecodePayload([]byte(`{"deviceId":"main","device_id":"alt"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `"main"`, string(raw.DeviceID))
	})
}

func TestDecodeMeasurement(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "22.5", want: 22.5},
		{raw: "-4", want: -4},
		{raw: `"21.25"`, want: 21.25},
		{raw: `" 7 "`, want: 7},
		{raw: "", wantErr: true},
		{raw: "null", wantErr: true},
		{raw: "true", wantErr: true},
		{raw: `"abc"`, wantErr: true},
		{raw: `"NaN"`, wantErr: true},
		{raw: `"inf"`, wantErr: true},
		{raw: "{}", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := decodeMeasurement("temperature", []byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, mqterrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDeviceID(t *testing.T) {
	id, ok := decodeDeviceID([]byte(`"esp32-01"`))
	assert.True(t, ok)
	assert.Equal(t, "esp32-01", id)

	for _, raw := range []string{"", "null", `""`, "42", "true", `{"a":"b"}`} {
		_, ok := decodeDeviceID([]byte(raw))
		assert.False(t, ok, raw)
	}

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	_, ok = decodeDeviceID([]byte(`"` + string(long) + `"`))
	assert.False(t, ok)
}
