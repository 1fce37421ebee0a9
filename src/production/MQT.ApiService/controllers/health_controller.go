package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/health"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
)

// HealthController handles liveness and readiness probes
type HealthController struct {
	checker *health.HealthChecker
	logger  *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker: checker,
		logger:  logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady answers 503 while the store is unreachable
func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, ready := c.checker.GetHealthStatus(ctx.Request.Context())
	if !ready {
		c.logger.Logger.Warn().Interface("checks", status["checks"]).Msg("Readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
