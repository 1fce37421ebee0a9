package ingestion

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// Reasons recorded for payloads rejected before field validation
const (
	ReasonNonUTF8         = "non-utf8 payload"
	ReasonInvalidJSON     = "invalid JSON payload"
	ReasonInvalidDeviceID = "missing or invalid deviceId"
)

// RawReading holds the undecoded fields of one inbound reading
type RawReading struct {
	DeviceID    json.RawMessage
	Ts          json.RawMessage
	Temperature json.RawMessage
	Humidity    json.RawMessage
}

// DecodePayload checks that payload is UTF-8 JSON text describing an object and
// extracts the reading fields. The device id is read from "deviceId", falling
// back to "device_id" when the former is absent or falsy (null, false, zero,
// or an empty string, array or object).
func DecodePayload(payload []byte) (RawReading, error) {
	if !utf8.Valid(payload) {
		return RawReading{}, &mqterrors.IngestFailure{Kind: mqterrors.ErrDecode, Reason: ReasonNonUTF8}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return RawReading{}, &mqterrors.IngestFailure{Kind: mqterrors.ErrDecode, Reason: ReasonInvalidJSON, Err: err}
	}

	deviceID := fields["deviceId"]
	if isFalsyJSON(deviceID) {
		deviceID = fields["device_id"]
	}

	return RawReading{
		DeviceID:    deviceID,
		Ts:          fields["ts"],
		Temperature: fields["temperature"],
		Humidity:    fields["humidity"],
	}, nil
}

func isFalsyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	switch raw[0] {
	case 'n', 'f':
		return bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false"))
	case '"', '[', '{':
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return false
		}
		switch v := v.(type) {
		case string:
			return v == ""
		case []interface{}:
			return len(v) == 0
		case map[string]interface{}:
			return len(v) == 0
		}
		return false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	return err == nil && f == 0
}

// decodeDeviceID accepts a non-empty JSON string of at most MaxDeviceIDLength characters
func decodeDeviceID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	if id == "" || utf8.RuneCountInString(id) > mqtmodels.MaxDeviceIDLength {
		return "", false
	}
	return id, true
}

// decodeMeasurement coerces a JSON number or numeric string into a finite float
func decodeMeasurement(name string, raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, mqterrors.Validation("%s is required", name)
	}

	var value float64
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, mqterrors.Validation("%s must be a number", name)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, mqterrors.Validation("could not convert %s to float: %q", name, s)
		}
		value = f
	case c == '-' || (c >= '0' && c <= '9'):
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0, mqterrors.Validation("could not convert %s to float: %s", name, raw)
		}
		value = f
	default:
		return 0, mqterrors.Validation("%s must be a number", name)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, mqterrors.Validation("%s must be a finite number", name)
	}
	return value, nil
}
