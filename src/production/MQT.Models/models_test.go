package mqtmodels

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTelemetryReading_NewerThan(t *testing.T) {
	a := TelemetryReading{ID: 1, Ts: 100}
	b := TelemetryReading{ID: 2, Ts: 100}
	c := TelemetryReading{ID: 0, Ts: 101}

	assert.True(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(b))
	assert.True(t, c.NewerThan(b))
	assert.False(t, a.NewerThan(a))
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "short", TruncateReason("short"))

	long := strings.Repeat("é", MaxReasonLength+20)
	got := TruncateReason(long)
	assert.Equal(t, MaxReasonLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}
