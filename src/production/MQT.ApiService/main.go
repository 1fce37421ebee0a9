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

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewApiContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	logger := ctr.GetLogger()
	logger.Info("Starting telemetry API service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctr.InitializeStore(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize telemetry store")
	}

	pipeline, err := ctr.GetPipeline()
	if err != nil {
		logger.FatalWithError(err, "Failed to build ingestion pipeline")
	}
	queries, err := ctr.GetQueryService()
	if err != nil {
		logger.FatalWithError(err, "Failed to build query service")
	}
	listener, err := ctr.GetMQTTIngestor()
	if err != nil {
		logger.FatalWithError(err, "Failed to build MQTT ingestor")
	}
	healthChecker, err := ctr.GetHealthChecker()
	if err != nil {
		logger.FatalWithError(err, "Failed to build health checker")
	}

	// The listener connects in the background and retries on its own
	if err := listener.Start(); err != nil {
		logger.ErrorWithError(err, "MQTT ingestor not started")
	}

	config := ctr.GetConfig()
	if config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := controllers.NewRouter(config.CORS, logger,
		controllers.NewTelemetryController(pipeline, queries, config.Telemetry.DefaultDeviceID, config.Server.IngestToken, logger),
		controllers.NewHealthController(healthChecker, logger),
	)

	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("API service running... press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
	if err := ctr.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Container shutdown incomplete")
	}
}
