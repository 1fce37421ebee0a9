package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Dialect selects placeholder and DDL flavour for the SQL store
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// SQLTelemetryRepository implements interfaces.TelemetryRepository on database/sql.
// Queries are written with ? placeholders and rebound for Postgres.
type SQLTelemetryRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ interfaces.TelemetryRepository = (*SQLTelemetryRepository)(nil)

func NewSQLTelemetryRepository(db *sql.DB, dialect Dialect) *SQLTelemetryRepository {
	return &SQLTelemetryRepository{db: db, dialect: dialect, now: time.Now}
}

// WithClock replaces the clock used to stamp error rows
func (r *SQLTelemetryRepository) WithClock(now func() time.Time) *SQLTelemetryRepository {
	r.now = now
	return r
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLTelemetryRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Device operations

func (r *SQLTelemetryRepository) EnsureDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error) {
	device, err := r.ensureDevice(ctx, r.db, deviceID)
	if err != nil {
		return nil, mqterrors.Storage("ensure device", err)
	}
	return device, nil
}

func (r *SQLTelemetryRepository) ensureDevice(ctx context.Context, q queryer, deviceID string) (*mqtmodels.Device, error) {
	insert := `
		INSERT INTO devices (device_id)
		VALUES (?)
		ON CONFLICT (device_id) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, r.rebind(insert), deviceID); err != nil {
		return nil, err
	}

	var device mqtmodels.Device
	var model sql.NullString
	query := `SELECT id, device_id, model FROM devices WHERE device_id = ?`
	if err := q.QueryRowContext(ctx, r.rebind(query), deviceID).Scan(&device.ID, &device.DeviceID, &model); err != nil {
		return nil, err
	}
	if model.Valid {
		device.Model = &model.String
	}
	return &device, nil
}

// Reading operations

func (r *SQLTelemetryRepository) InsertTelemetry(ctx context.Context, deviceID string, ts int64, temperature, humidity float64) (*mqtmodels.TelemetryReading, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mqterrors.Storage("begin telemetry insert", err)
	}
	defer tx.Rollback()

	if _, err := r.ensureDevice(ctx, tx, deviceID); err != nil {
		return nil, mqterrors.Storage("ensure device", err)
	}

	reading := mqtmodels.TelemetryReading{
		DeviceID:    deviceID,
		Ts:          ts,
		Temperature: temperature,
		Humidity:    humidity,
	}
	query := `
		INSERT INTO telemetry (device_id, ts, temperature, humidity)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, r.rebind(query), deviceID, ts, temperature, humidity).Scan(&reading.ID); err != nil {
		return nil, mqterrors.Storage("insert telemetry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mqterrors.Storage("commit telemetry insert", err)
	}
	return &reading, nil
}

func (r *SQLTelemetryRepository) LatestFor(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error) {
	query := `
		SELECT id, device_id, ts, temperature, humidity
		FROM telemetry
		WHERE device_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	var reading mqtmodels.TelemetryReading
	err := r.db.QueryRowContext(ctx, r.rebind(query), deviceID).
		Scan(&reading.ID, &reading.DeviceID, &reading.Ts, &reading.Temperature, &reading.Humidity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mqterrors.Storage("latest telemetry", err)
	}
	return &reading, nil
}

func (r *SQLTelemetryRepository) WindowFor(ctx context.Context, deviceID string, limit int) ([]mqtmodels.TelemetryReading, error) {
	limit = interfaces.ClampLimit(limit, interfaces.MaxWindowLimit)
	query := `
		SELECT id, device_id, ts, temperature, humidity
		FROM telemetry
		WHERE device_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), deviceID, limit)
	if err != nil {
		return nil, mqterrors.Storage("telemetry window", err)
	}
	defer rows.Close()

	readings, err := r.scanReadings(rows)
	if err != nil {
		return nil, mqterrors.Storage("telemetry window", err)
	}

	// newest-first from the query, callers want ascending
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

func (r *SQLTelemetryRepository) CountTelemetry(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry`).Scan(&count); err != nil {
		return 0, mqterrors.Storage("count telemetry", err)
	}
	return count, nil
}

func (r *SQLTelemetryRepository) scanReadings(rows *sql.Rows) ([]mqtmodels.TelemetryReading, error) {
	readings := make([]mqtmodels.TelemetryReading, 0)

	for rows.Next() {
		var reading mqtmodels.TelemetryReading
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Ts, &reading.Temperature, &reading.Humidity); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}

	return readings, rows.Err()
}

// Error log operations

func (r *SQLTelemetryRepository) RecordError(ctx context.Context, reason string, deviceID *string) (*mqtmodels.IngestError, error) {
	entry := mqtmodels.IngestError{
		DeviceID: deviceID,
		Ts:       r.now().Unix(),
		Reason:   mqtmodels.TruncateReason(reason),
	}

	var device sql.NullString
	if deviceID != nil {
		device = sql.NullString{String: *deviceID, Valid: true}
	}

	query := `
		INSERT INTO errors (device_id, ts, reason)
		VALUES (?, ?, ?)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), device, entry.Ts, entry.Reason).Scan(&entry.ID); err != nil {
		return nil, mqterrors.Storage("record error", err)
	}
	return &entry, nil
}

func (r *SQLTelemetryRepository) RecentErrors(ctx context.Context, deviceID *string, limit int) ([]mqtmodels.IngestError, error) {
	limit = interfaces.ClampLimit(limit, interfaces.MaxErrorsLimit)

	var (
		rows *sql.Rows
		err  error
	)
	if deviceID != nil {
		query := `
			SELECT id, device_id, ts, reason
			FROM errors
			WHERE device_id = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query), *deviceID, limit)
	} else {
		query := `
			SELECT id, device_id, ts, reason
			FROM errors
			ORDER BY ts DESC, id DESC
			LIMIT ?
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query), limit)
	}
	if err != nil {
		return nil, mqterrors.Storage("recent errors", err)
	}
	defer rows.Close()

	entries := make([]mqtmodels.IngestError, 0)
	for rows.Next() {
		var entry mqtmodels.IngestError
		var device sql.NullString
		if err := rows.Scan(&entry.ID, &device, &entry.Ts, &entry.Reason); err != nil {
			return nil, mqterrors.Storage("recent errors", err)
		}
		if device.Valid {
			d := device.String
			entry.DeviceID = &d
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mqterrors.Storage("recent errors", err)
	}
	return entries, nil
}

// Lifecycle

func (r *SQLTelemetryRepository) Ping(ctx context.Context) error {
	if r.db == nil {
		return mqterrors.Storage("ping", fmt.Errorf("database connection is nil"))
	}
	return mqterrors.Storage("ping", r.db.PingContext(ctx))
}

func (r *SQLTelemetryRepository) Close() error {
	return r.db.Close()
}
