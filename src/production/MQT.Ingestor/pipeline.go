package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Source names the front end a reading arrived through
type Source string

const (
	SourceHTTP Source = "HTTP"
	SourceMQTT Source = "MQTT"
)

// Pipeline validates, normalizes and persists readings for both front ends.
// Every rejected reading is written to the error log before Ingest returns.
type Pipeline struct {
	repo   interfaces.TelemetryRepository
	logger *logger.Logger
	now    func() time.Time
}

func NewPipeline(repo interfaces.TelemetryRepository, log *logger.Logger) *Pipeline {
	return &Pipeline{
		repo:   repo,
		logger: log.WithComponent("ingestion"),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for absent timestamps
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process decodes a raw payload and ingests it
func (p *Pipeline) Process(ctx context.Context, source Source, payload []byte) (*mqtmodels.TelemetryReading, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		var failure *mqterrors.IngestFailure
		if errors.As(err, &failure) {
			return nil, p.reject(ctx, source, failure)
		}
		return nil, err
	}
	return p.Ingest(ctx, source, raw)
}

// Ingest validates raw in order (device id, timestamp, measurements) and
// stores the reading. The returned error is an *mqterrors.IngestFailure.
func (p *Pipeline) Ingest(ctx context.Context, source Source, raw RawReading) (*mqtmodels.TelemetryReading, error) {
	deviceID, ok := decodeDeviceID(raw.DeviceID)
	if !ok {
		return nil, p.reject(ctx, source, &mqterrors.IngestFailure{
			Kind:   mqterrors.ErrValidation,
			Reason: ReasonInvalidDeviceID,
		})
	}

	ts, err := NormalizeTimestamp(DecodeTimestamp(raw.Ts), p.now())
	if err != nil {
		return nil, p.reject(ctx, source, &mqterrors.IngestFailure{
			Kind:     mqterrors.ErrParse,
			Reason:   mqterrors.Message(err),
			DeviceID: &deviceID,
			Err:      err,
		})
	}

	temperature, err := decodeMeasurement("temperature", raw.Temperature)
	if err == nil {
		var humidity float64
		humidity, err = decodeMeasurement("humidity", raw.Humidity)
		if err == nil {
			return p.store(ctx, source, deviceID, ts, temperature, humidity)
		}
	}
	return nil, p.reject(ctx, source, &mqterrors.IngestFailure{
		Kind:     mqterrors.ErrValidation,
		Reason:   mqterrors.Message(err),
		DeviceID: &deviceID,
		Err:      err,
	})
}

func (p *Pipeline) store(ctx context.Context, source Source, deviceID string, ts int64, temperature, humidity float64) (*mqtmodels.TelemetryReading, error) {
	reading, err := p.repo.InsertTelemetry(ctx, deviceID, ts, temperature, humidity)
	if err != nil {
		p.logger.Logger.Error().Err(err).Str("source", string(source)).Str("device_id", deviceID).Msg("Failed to persist telemetry")
		return nil, p.reject(ctx, source, &mqterrors.IngestFailure{
			Kind:     mqterrors.ErrStorageUnavailable,
			Reason:   fmt.Sprintf("database error during %s ingest", source),
			DeviceID: &deviceID,
			Err:      err,
		})
	}

	p.logger.Logger.Debug().
		Str("source", string(source)).
		Str("device_id", deviceID).
		Int64("ts", ts).
		Int64("id", reading.ID).
		Msg("Stored telemetry reading")
	return reading, nil
}

// reject writes failure to the error log. If that write fails too, the
// returned error also carries ErrStorageUnavailable.
func (p *Pipeline) reject(ctx context.Context, source Source, failure *mqterrors.IngestFailure) error {
	device := "<unknown>"
	if failure.DeviceID != nil {
		device = *failure.DeviceID
	}
	p.logger.Logger.Warn().Str("source", string(source)).Str("device_id", device).Str("reason", failure.Reason).Msg("Rejected telemetry")

	if _, err := p.repo.RecordError(ctx, failure.Reason, failure.DeviceID); err != nil {
		p.logger.Logger.Error().Err(err).Str("source", string(source)).Msg("Failed to record ingest error")
		failure.Err = errors.Join(failure.Err, err)
	}
	return failure
}
