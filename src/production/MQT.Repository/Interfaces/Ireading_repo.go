package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// Limits applied by WindowFor and RecentErrors
const (
	MaxWindowLimit = 1000
	MaxErrorsLimit = 200
)

// TelemetryRepository is the persistence boundary for devices, readings and
// ingestion errors. Implementations are safe for concurrent use and report
// driver failures wrapped in mqterrors.ErrStorageUnavailable.
type TelemetryRepository interface {
	// EnsureDevice returns the device row, creating it if needed.
	// Concurrent calls for the same new id create exactly one row.
	EnsureDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error)

	// InsertTelemetry ensures the device and stores the reading atomically
	InsertTelemetry(ctx context.Context, deviceID string, ts int64, temperature, humidity float64) (*mqtmodels.TelemetryReading, error)

	// RecordError appends to the error log. deviceID may be nil.
	RecordError(ctx context.Context, reason string, deviceID *string) (*mqtmodels.IngestError, error)

	// LatestFor returns the newest reading by (ts, id), or nil when there is none
	LatestFor(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error)

	// WindowFor returns the newest limit readings in ascending (ts, id) order
	WindowFor(ctx context.Context, deviceID string, limit int) ([]mqtmodels.TelemetryReading, error)

	// RecentErrors returns the newest limit errors, newest first, optionally for one device
	RecentErrors(ctx context.Context, deviceID *string, limit int) ([]mqtmodels.IngestError, error)

	// CountTelemetry returns the number of stored readings
	CountTelemetry(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit forces limit into [1, max]
func ClampLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}
