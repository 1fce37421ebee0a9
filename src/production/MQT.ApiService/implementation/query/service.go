package query

import (
	"context"
	"fmt"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Defaults used when a caller does not pass a limit
const (
	DefaultWindowLimit = 300
	DefaultErrorsLimit = 20
)

// LatestReading is the newest reading of a device plus its online flag
type LatestReading struct {
	mqtmodels.TelemetryReading
	Online bool
}

// DeviceStatus reports liveness without the reading values.
// UpdatedAt is nil when the device has never reported.
type DeviceStatus struct {
	DeviceID  string
	Online    bool
	UpdatedAt *int64
}

// Service answers the read endpoints on top of the telemetry store
type Service struct {
	repo  interfaces.TelemetryRepository
	grace time.Duration
	now   func() time.Time
}

func NewService(repo interfaces.TelemetryRepository, grace time.Duration) *Service {
	return &Service{repo: repo, grace: grace, now: time.Now}
}

// WithClock replaces the clock used for online checks
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IsOnline reports whether a reading taken at ts is within the grace window.
// The boundary counts as online.
func (s *Service) IsOnline(ts int64) bool {
	return s.now().Unix()-ts <= int64(s.grace/time.Second)
}

// Latest returns the newest reading for deviceID or mqterrors.ErrNotFound
func (s *Service) Latest(ctx context.Context, deviceID string) (*LatestReading, error) {
	reading, err := s.repo.LatestFor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, fmt.Errorf("latest reading for %q: %w", deviceID, mqterrors.ErrNotFound)
	}
	return &LatestReading{TelemetryReading: *reading, Online: s.IsOnline(reading.Ts)}, nil
}

// Status never fails for an unknown device; it reports it as offline
func (s *Service) Status(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	reading, err := s.repo.LatestFor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	status := &DeviceStatus{DeviceID: deviceID}
	if reading != nil {
		ts := reading.Ts
		status.UpdatedAt = &ts
		status.Online = s.IsOnline(ts)
	}
	return status, nil
}

// MetricsWindow returns up to limit readings in ascending time order
func (s *Service) MetricsWindow(ctx context.Context, deviceID string, limit int) ([]mqtmodels.TelemetryReading, error) {
	return s.repo.WindowFor(ctx, deviceID, interfaces.ClampLimit(limit, interfaces.MaxWindowLimit))
}

// Errors returns the newest ingest errors, optionally for one device
func (s *Service) Errors(ctx context.Context, deviceID *string, limit int) ([]mqtmodels.IngestError, error) {
	return s.repo.RecentErrors(ctx, deviceID, interfaces.ClampLimit(limit, interfaces.MaxErrorsLimit))
}

func (s *Service) IngestOKTotal(ctx context.Context) (int64, error) {
	return s.repo.CountTelemetry(ctx)
}
