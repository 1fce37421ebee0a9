package ingestion

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
)

// TimestampKind tags the shape a raw "ts" value arrived in
type TimestampKind int

const (
	TimestampAbsent TimestampKind = iota
	TimestampNumber
	TimestampString
	TimestampUnsupported
)

// RawTimestamp is the decoded but not yet normalized "ts" field
type RawTimestamp struct {
	Kind   TimestampKind
	Number json.Number
	Text   string
	// Type names the JSON type of an unsupported value
	Type string
}

// Values above this are epoch milliseconds
const millisecondThreshold = 1_000_000_000_000

// DecodeTimestamp classifies a raw JSON value. A nil or null value is absent.
func DecodeTimestamp(raw json.RawMessage) RawTimestamp {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return RawTimestamp{Kind: TimestampAbsent}
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return RawTimestamp{Kind: TimestampUnsupported, Type: "string"}
		}
		return RawTimestamp{Kind: TimestampString, Text: s}
	case c == '-' || (c >= '0' && c <= '9'):
		return RawTimestamp{Kind: TimestampNumber, Number: json.Number(raw)}
	case c == 't' || c == 'f':
		return RawTimestamp{Kind: TimestampUnsupported, Type: "boolean"}
	case c == '{':
		return RawTimestamp{Kind: TimestampUnsupported, Type: "object"}
	case c == '[':
		return RawTimestamp{Kind: TimestampUnsupported, Type: "array"}
	}
	return RawTimestamp{Kind: TimestampUnsupported, Type: "unknown"}
}

// NormalizeTimestamp converts ts into epoch seconds. now is used for absent
// or empty values. Failures wrap mqterrors.ErrParse.
func NormalizeTimestamp(ts RawTimestamp, now time.Time) (int64, error) {
	switch ts.Kind {
	case TimestampAbsent:
		return now.Unix(), nil
	case TimestampNumber:
		return normalizeNumber(ts.Number)
	case TimestampString:
		return normalizeString(ts.Text, now)
	}
	return 0, mqterrors.Parse("unsupported timestamp type: %s", ts.Type)
}

func normalizeNumber(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		if v > millisecondThreshold {
			return v / 1000, nil
		}
		return v, nil
	}

	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, mqterrors.Parse("invalid timestamp format: %s", n)
	}
	if f > millisecondThreshold {
		f /= 1000
	}
	f = math.Trunc(f)
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, mqterrors.Parse("timestamp out of range: %s", n)
	}
	return int64(f), nil
}

func normalizeString(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Unix(), nil
	}

	if isDecimalDigits(s) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, mqterrors.Parse("invalid timestamp format: %s", s)
		}
		return v, nil
	}

	t, ok := parseISO8601(s)
	if !ok {
		return 0, mqterrors.Parse("invalid timestamp format: %s", s)
	}
	return t.Unix(), nil
}

func isDecimalDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// isoLayouts lists accepted ISO-8601 shapes. Fractional seconds are accepted
// after any seconds field. Values without an offset are UTC.
var isoLayouts = func() []string {
	dates := []string{"2006-01-02", "20060102"}
	times := []string{"15:04:05", "15:04", "150405", "15"}
	zones := []string{"", "Z07:00", "-0700", "-07"}

	layouts := make([]string, 0, len(dates)*(1+len(times)*len(zones)*2))
	for _, d := range dates {
		layouts = append(layouts, d)
		for _, t := range times {
			for _, sep := range []string{"T", " "} {
				for _, z := range zones {
					layouts = append(layouts, d+sep+t+z)
				}
			}
		}
	}
	return layouts
}()

func parseISO8601(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
