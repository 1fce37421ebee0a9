package implementation

import (
	"context"
	"fmt"
	"time"
)

// CreateTables creates the required tables if they don't exist
func (r *SQLTelemetryRepository) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, query := range r.schema() {
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (r *SQLTelemetryRepository) schema() []string {
	pk := "BIGSERIAL PRIMARY KEY"
	floatType := "DOUBLE PRECISION"
	if r.dialect == DialectSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
		floatType = "REAL"
	}

	createDevicesTable := `
		CREATE TABLE IF NOT EXISTS devices (
			id          ` + pk + `,
			device_id   VARCHAR(100) NOT NULL UNIQUE,
			model       VARCHAR(100)
		)
	`

	createTelemetryTable := `
		CREATE TABLE IF NOT EXISTS telemetry (
			id          ` + pk + `,
			device_id   VARCHAR(100) NOT NULL,
			ts          BIGINT NOT NULL,
			temperature ` + floatType + ` NOT NULL,
			humidity    ` + floatType + ` NOT NULL,
			FOREIGN KEY (device_id) REFERENCES devices(device_id) ON DELETE CASCADE
		)
	`

	createErrorsTable := `
		CREATE TABLE IF NOT EXISTS errors (
			id          ` + pk + `,
			device_id   VARCHAR(100),
			ts          BIGINT NOT NULL,
			reason      VARCHAR(500) NOT NULL
		)
	`

	return []string{
		createDevicesTable,
		createTelemetryTable,
		createErrorsTable,
		`CREATE INDEX IF NOT EXISTS ix_telemetry_device_ts ON telemetry (device_id, ts)`,
		`CREATE INDEX IF NOT EXISTS ix_errors_ts ON errors (ts)`,
		`CREATE INDEX IF NOT EXISTS ix_errors_device_ts ON errors (device_id, ts)`,
	}
}
