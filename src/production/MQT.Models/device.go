package mqtmodels

// Device is a sensor node known to the server. Rows are created implicitly
// on first telemetry and never deleted.
type Device struct {
	ID       int64   `json:"id" db:"id" bson:"id"`
	DeviceID string  `json:"deviceId" db:"device_id" bson:"device_id"`
	Model    *string `json:"model,omitempty" db:"model" bson:"model,omitempty"`
}

// MaxDeviceIDLength is the column width of devices.device_id
const MaxDeviceIDLength = 100
