package health

import (
	"context"
	"fmt"
	"time"

	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const version = "1.0.0"

// Listener is the part of the MQTT service the health check looks at
type Listener interface {
	Running() bool
	IsConnected() bool
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	repo     interfaces.TelemetryRepository
	listener Listener
	backend  string
}

// NewHealthChecker creates a new health checker. listener may be nil when
// the process runs without MQTT.
func NewHealthChecker(repo interfaces.TelemetryRepository, backend string, listener Listener) *HealthChecker {
	return &HealthChecker{repo: repo, listener: listener, backend: backend}
}

// PingStore checks if the telemetry store is reachable
func (h *HealthChecker) PingStore(ctx context.Context) error {
	if h.repo == nil {
		return fmt.Errorf("telemetry store is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return h.repo.Ping(ctx)
}

// MQTTState is "disabled", "connected" or "disconnected"
func (h *HealthChecker) MQTTState() string {
	switch {
	case h.listener == nil || !h.listener.Running():
		return "disabled"
	case h.listener.IsConnected():
		return "connected"
	}
	return "disconnected"
}

// GetHealthStatus returns the current health status. Ready is false only
// when the store is unreachable; a disconnected broker degrades the status.
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (status map[string]interface{}, ready bool) {
	checks := make(map[string]interface{})
	status = map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
		"checks":    checks,
	}

	ready = true
	overall := "ok"
	if err := h.PingStore(ctx); err != nil {
		ready = false
		overall = "error"
		checks["store"] = map[string]interface{}{
			"status":  "error",
			"backend": h.backend,
			"error":   err.Error(),
		}
	} else {
		checks["store"] = map[string]interface{}{
			"status":  "ok",
			"backend": h.backend,
		}
	}

	mqttState := h.MQTTState()
	checks["mqtt"] = map[string]interface{}{"status": mqttState}
	if mqttState == "disconnected" && overall == "ok" {
		overall = "degraded"
	}

	status["status"] = overall
	return status, ready
}
