package controllers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
)

// RouteRegistrar is implemented by every controller
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// NewRouter builds the gin engine with recovery, request ids, request
// logging and CORS, then lets each controller register its routes
func NewRouter(corsCfg config.CORSConfig, log *logger.Logger, registrars ...RouteRegistrar) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsCfg.AllowedOrigins,
		AllowMethods:     corsCfg.AllowedMethods,
		AllowHeaders:     corsCfg.AllowedHeaders,
		ExposeHeaders:    corsCfg.ExposedHeaders,
		AllowCredentials: corsCfg.AllowCredentials,
		MaxAge:           time.Duration(corsCfg.MaxAge) * time.Second,
	}))

	for _, r := range registrars {
		r.RegisterRoutes(router)
	}
	return router
}
