package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/health"
	query "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/implementation/query"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	ingestion "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	mqtingestor "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.IngestorService/ingestor"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	implementation "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

var errStoreNotInitialized = errors.New("telemetry store not initialized; call InitializeStore first")

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	repo    interfaces.TelemetryRepository
	backend implementation.Backend

	pipeline      *ingestion.Pipeline
	queries       *query.Service
	listener      *mqtingestor.Ingestor
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Cleanup functions, run in reverse order
	cleanupFuncs []func() error
}

// ApiContainer wires the HTTP API, which also runs the MQTT listener
type ApiContainer struct {
	*Container
}

// IngestorContainer wires the standalone MQTT worker
type IngestorContainer struct {
	*Container
}

// New builds a container from an already loaded configuration
func New(cfg *config.Config, log *logger.Logger) *Container {
	return &Container{
		config: cfg,
		logger: log,
	}
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}
	log := logger.NewLogger(&cfg.Logging).WithService("telemetry-api")
	return &ApiContainer{Container: New(cfg, log)}, nil
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}
	log := logger.NewLogger(&cfg.Logging).WithService("telemetry-ingestor")
	return &IngestorContainer{Container: New(cfg, log)}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// InitializeStore opens the backend named by DATABASE_URL, creating its schema,
// and puts the Redis cache in front of it when REDIS_ADDR is set. A cache that
// cannot be reached is logged and skipped.
func (c *Container) InitializeStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repo != nil {
		return nil
	}

	repo, backend, err := implementation.OpenTelemetryRepository(ctx, c.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	c.logger.Logger.Info().Str("backend", string(backend)).Msg("Telemetry store initialized")

	if c.config.Cache.Addr != "" {
		cache, err := implementation.OpenRedisLatestCache(ctx, c.config.Cache.Addr, c.config.Cache.Password, c.config.Cache.DB, c.config.Cache.TTL)
		if err != nil {
			c.logger.Logger.Warn().Err(err).Str("addr", c.config.Cache.Addr).Msg("Latest-reading cache unavailable; serving from the store")
		} else {
			repo = implementation.NewCachedTelemetryRepository(repo, cache, c.logger.WithComponent("latest-cache"))
			c.logger.Logger.Info().Str("addr", c.config.Cache.Addr).Msg("Latest-reading cache enabled")
		}
	}

	c.useStore(repo, backend)
	return nil
}

// UseStore installs an already opened store. Tests use it with SQLite.
func (c *Container) UseStore(repo interfaces.TelemetryRepository, backend implementation.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useStore(repo, backend)
}

func (c *Container) useStore(repo interfaces.TelemetryRepository, backend implementation.Backend) {
	c.repo = repo
	c.backend = backend
	c.cleanupFuncs = append(c.cleanupFuncs, repo.Close)
}

// GetStore returns the telemetry store
func (c *Container) GetStore() (interfaces.TelemetryRepository, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.repo == nil {
		return nil, errStoreNotInitialized
	}
	return c.repo, nil
}

// GetBackend returns the backend the store was opened with
func (c *Container) GetBackend() implementation.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// GetPipeline returns the shared ingestion pipeline
func (c *Container) GetPipeline() (*ingestion.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repo == nil {
		return nil, errStoreNotInitialized
	}
	if c.pipeline == nil {
		c.pipeline = ingestion.NewPipeline(c.repo, c.logger.WithComponent("pipeline"))
	}
	return c.pipeline, nil
}

// GetQueryService returns the read-side service
func (c *Container) GetQueryService() (*query.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repo == nil {
		return nil, errStoreNotInitialized
	}
	if c.queries == nil {
		c.queries = query.NewService(c.repo, c.config.Telemetry.OnlineGrace)
	}
	return c.queries, nil
}

// GetMQTTIngestor returns the MQTT listener. It is built once and not started.
func (c *Container) GetMQTTIngestor() (*mqtingestor.Ingestor, error) {
	pipeline, err := c.GetPipeline()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		c.listener = mqtingestor.New(c.config, pipeline, c.logger)
	}
	return c.listener, nil
}

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker() (*health.HealthChecker, error) {
	listener, err := c.GetMQTTIngestor()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthChecker == nil {
		c.healthChecker = health.NewHealthChecker(c.repo, string(c.backend), listener)
	}
	return c.healthChecker, nil
}

// HealthCheck performs a comprehensive health check
func (c *Container) HealthCheck(ctx context.Context) map[string]interface{} {
	healthChecker, err := c.GetHealthChecker()
	if err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}
	status, _ := healthChecker.GetHealthStatus(ctx)
	return status
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown stops the MQTT listener, then runs cleanup functions in reverse order
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	listener := c.listener
	cleanups := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	if listener != nil {
		listener.Stop()
	}

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := cleanups[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
			errs = append(errs, err)
		}
	}

	c.logger.Info("Container shutdown complete")
	return errors.Join(errs...)
}
