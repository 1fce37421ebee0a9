package mqtmodels

// TelemetryReading is one persisted sample. Ts is epoch seconds.
// Readings are immutable and ordered by (Ts, ID).
type TelemetryReading struct {
	ID          int64   `json:"id" db:"id" bson:"id"`
	DeviceID    string  `json:"deviceId" db:"device_id" bson:"device_id"`
	Ts          int64   `json:"ts" db:"ts" bson:"ts"`
	Temperature float64 `json:"temperature" db:"temperature" bson:"temperature"`
	Humidity    float64 `json:"humidity" db:"humidity" bson:"humidity"`
}

// NewerThan reports whether r sorts after other in (Ts, ID) order
func (r TelemetryReading) NewerThan(other TelemetryReading) bool {
	if r.Ts != other.Ts {
		return r.Ts > other.Ts
	}
	return r.ID > other.ID
}
