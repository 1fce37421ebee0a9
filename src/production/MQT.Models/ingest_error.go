package mqtmodels

import "unicode/utf8"

// IngestError is an append-only record of a rejected payload.
// DeviceID is nil when the payload never yielded a usable device id.
type IngestError struct {
	ID       int64   `json:"id" db:"id" bson:"id"`
	DeviceID *string `json:"deviceId" db:"device_id" bson:"device_id"`
	Ts       int64   `json:"ts" db:"ts" bson:"ts"`
	Reason   string  `json:"reason" db:"reason" bson:"reason"`
}

// MaxReasonLength is the column width of errors.reason
const MaxReasonLength = 500

// TruncateReason cuts reason to MaxReasonLength characters without splitting a rune
func TruncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= MaxReasonLength {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:MaxReasonLength])
}
