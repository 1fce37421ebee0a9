package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// LatestReadingCache keeps the newest reading per device outside the main store
type LatestReadingCache interface {
	// Get returns nil, nil on a miss
	Get(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error)

	// Offer stores r unless the cached reading is newer in (ts, id) order
	Offer(ctx context.Context, r mqtmodels.TelemetryReading) error

	// Invalidate drops the cached reading for deviceID
	Invalidate(ctx context.Context, deviceID string) error

	Close() error
}
