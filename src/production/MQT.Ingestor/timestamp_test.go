package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func normalize(t *testing.T, raw string) (int64, error) {
	t.Helper()
	var msg json.RawMessage
	if raw != "" {
		msg = json.RawMessage(raw)
	}
	return NormalizeTimestamp(DecodeTimestamp(msg), fixedNow)
}

func TestDecodeTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		kind TimestampKind
	}{
		{raw: "", kind: TimestampAbsent},
		{raw: "null", kind: TimestampAbsent},
		{raw: " 12 ", kind: TimestampNumber},
		{raw: "-3.5", kind: TimestampNumber},
		{raw: `"2024-01-01"`, kind: TimestampString},
		{raw: "true", kind: TimestampUnsupported},
		{raw: `{"a":1}`, kind: TimestampUnsupported},
		{raw: "[1]", kind: TimestampUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.kind, DecodeTimestamp(json.RawMessage(tt.raw)).Kind)
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr string
	}{
		{name: "absent", raw: "", want: fixedNow.Unix()},
		{name: "null", raw: "null", want: fixedNow.Unix()},
		{name: "seconds", raw: "1700000000", want: 1700000000},
		{name: "milliseconds", raw: "1700000000123", want: 1700000000},
		{name: "threshold is seconds", raw: "1000000000000", want: 1000000000000},
		{name: "just above threshold", raw: "1000000000001", want: 1000000000},
		{name: "fractional seconds truncate", raw: "1700000000.9", want: 1700000000},
		{name: "fractional milliseconds", raw: "1700000000123.7", want: 1700000000},
		{name: "exponent", raw: "1.7e9", want: 1700000000},
		{name: "small", raw: "1", want: 1},
		{name: "empty string", raw: `""`, want: fixedNow.Unix()},
		{name: "blank string", raw: `"   "`, want: fixedNow.Unix()},
		{name: "digit string", raw: `"1700000000"`, want: 1700000000},
		{name: "digit string is always seconds", raw: `"1700000000123"`, want: 1700000000123},
		{name: "padded digit string", raw: `" 42 "`, want: 42},
		{name: "iso zulu", raw: `"2023-11-14T22:13:20Z"`, want: 1700000000},
		{name: "iso offset", raw: `"2023-11-15T00:13:20+02:00"`, want: 1700000000},
		{name: "iso compact offset", raw: `"2023-11-15T00:13:20+0200"`, want: 1700000000},
		{name: "iso fractional", raw: `"2023-11-14T22:13:20.987Z"`, want: 1700000000},
		{name: "iso naive is utc", raw: `"2023-11-14T22:13:20"`, want: 1700000000},
		{name: "iso space separator", raw: `"2023-11-14 22:13:20"`, want: 1700000000},
		{name: "iso minutes only", raw: `"2023-11-14T22:13"`, want: 1699999980},
		{name: "iso hour only", raw: `"2024-01-01T10"`, want: 1704103200},
		{name: "iso hour only with offset", raw: `"2024-01-01T10+02:00"`, want: 1704096000},
		{name: "date only", raw: `"2023-11-14"`, want: 1699920000},
		{name: "garbage string", raw: `"yesterday"`, wantErr: "invalid timestamp format: yesterday"},
		{name: "negative digit-like string", raw: `"-5x"`, wantErr: "invalid timestamp format: -5x"},
		{name: "bool", raw: "true", wantErr: "unsupported timestamp type: boolean"},
		{name: "object", raw: `{"s":1}`, wantErr: "unsupported timestamp type: object"},
		{name: "array", raw: "[1]", wantErr: "unsupported timestamp type: array"},
		{name: "out of range", raw: "1e300", wantErr: "timestamp out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize(t, tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, mqterrors.ErrParse)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTimestamp_MillisecondRule(t *testing.T) {
	for _, v := range []int64{0, 1, 999, 1_699_999_999, 1_000_000_000_000, 1_000_000_000_001, 1_700_000_000_999, 9_999_999_999_999_999} {
		got, err := normalize(t, fmt.Sprint(v))
		require.NoError(t, err)
		want := v
		if v > millisecondThreshold {
			want = v / 1000
		}
		assert.Equal(t, want, got, "value %d", v)
	}
}

func TestNormalizeTimestamp_ZuluEqualsUTCOffset(t *testing.T) {
	for _, s := range []string{
		"2024-02-29T23:59:59Z",
		"1999-12-31T00:00:00.5Z",
		"2030-06-15T08:30Z",
		"1970-01-01T00:00:00Z",
	} {
		zulu, err := normalize(t, `"`+s+`"`)
		require.NoError(t, err, s)
		offset, err := normalize(t, `"`+strings.TrimSuffix(s, "Z")+`+00:00"`)
		require.NoError(t, err, s)
		assert.Equal(t, zulu, offset, s)
	}
}
