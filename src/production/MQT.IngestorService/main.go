package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/controllers"
	container "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Container"
)

// Standalone MQTT worker. It writes straight to the telemetry store and
// serves only health probes over HTTP.
func main() {
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	config := ctr.GetConfig()
	if !config.MQTTActive() {
		logger.Warn("MQTT is disabled or no broker is configured; the ingestor will only serve health probes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctr.InitializeStore(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize telemetry store")
	}

	ing, err := ctr.GetMQTTIngestor()
	if err != nil {
		logger.FatalWithError(err, "Failed to build MQTT ingestor")
	}
	if err := ing.Start(); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	healthChecker, err := ctr.GetHealthChecker()
	if err != nil {
		logger.FatalWithError(err, "Failed to build health checker")
	}

	gin.SetMode(gin.ReleaseMode)
	router := controllers.NewRouter(config.CORS, logger, controllers.NewHealthController(healthChecker, logger))
	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
	if err := ctr.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Container shutdown incomplete")
	}
}
