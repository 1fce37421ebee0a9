package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/pflag"

	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	container "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Container"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

type options struct {
	Devices []string
	Timeout time.Duration
	Check   bool
}

// deviceResult is one pre-registered device in the report
type deviceResult struct {
	DeviceID string `json:"deviceId"`
	ID       int64  `json:"id"`
}

type report struct {
	Backend   string                 `json:"backend"`
	Devices   []deviceResult         `json:"devices"`
	Telemetry int64                  `json:"telemetryRows"`
	Health    map[string]interface{} `json:"health,omitempty"`
}

// parseOptions applies command-line overrides on top of the environment configuration
func parseOptions(fs *pflag.FlagSet, args []string, cfg *config.Config) (*options, error) {
	databaseURL := fs.String("database-url", "", "Store URL (overrides DATABASE_URL)")
	redisAddr := fs.String("redis-addr", "", "Latest-reading cache address (overrides REDIS_ADDR)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	devices := fs.StringSlice("device", nil, "Device id to pre-register; repeatable or comma separated")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall deadline")
	check := fs.Bool("check", false, "Include a health report in the output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if *databaseURL != "" {
		cfg.Database.URL = *databaseURL
	}
	if fs.Changed("redis-addr") {
		cfg.Cache.Addr = *redisAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	for _, id := range *devices {
		id = strings.TrimSpace(id)
		if id == "" || utf8.RuneCountInString(id) > mqtmodels.MaxDeviceIDLength {
			return nil, fmt.Errorf("invalid device id %q", id)
		}
	}

	return &options{Devices: *devices, Timeout: *timeout, Check: *check}, nil
}

// run opens the store, which creates the schema, then registers devices and
// writes a JSON report to out
func run(ctx context.Context, cfg *config.Config, opts *options, out io.Writer) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	log := logger.NewLogger(&cfg.Logging).WithService("telemetry-bootstrap")
	ctr := container.New(cfg, log)
	defer func() {
		if shutdownErr := ctr.Shutdown(context.Background()); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if err := ctr.InitializeStore(ctx); err != nil {
		return err
	}
	repo, err := ctr.GetStore()
	if err != nil {
		return err
	}
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}

	rep := report{Backend: string(ctr.GetBackend()), Devices: []deviceResult{}}
	for _, id := range opts.Devices {
		id = strings.TrimSpace(id)
		device, err := repo.EnsureDevice(ctx, id)
		if err != nil {
			return fmt.Errorf("register device %s: %w", id, err)
		}
		log.Logger.Info().Str("device_id", id).Int64("id", device.ID).Msg("Device registered")
		rep.Devices = append(rep.Devices, deviceResult{DeviceID: device.DeviceID, ID: device.ID})
	}

	if rep.Telemetry, err = repo.CountTelemetry(ctx); err != nil {
		return fmt.Errorf("count telemetry: %w", err)
	}
	if opts.Check {
		rep.Health = ctr.HealthCheck(ctx)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
