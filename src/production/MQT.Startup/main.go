package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
)

// One-shot store bootstrap: creates the schema for DATABASE_URL, checks the
// store (and cache when configured) and optionally pre-registers devices.
func main() {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("telemetry-bootstrap", pflag.ContinueOnError)
	opts, err := parseOptions(fs, os.Args[1:], cfg)
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}
