package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	api_models "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models/api"
)

// IngestAuthMiddleware validates the bearer token devices send on POST /ingest.
// An empty expected token disables the check.
func IngestAuthMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedToken == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api_models.ErrorResponse{
				Error: "Missing Authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api_models.ErrorResponse{
				Error: "Invalid authorization format. Expected 'Bearer <token>'",
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api_models.ErrorResponse{
				Error: "Invalid ingest token",
			})
			return
		}

		c.Next()
	}
}
