package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	query "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/implementation/query"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	ingestion "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	api_models "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models/api"
)

const (
	maxIngestBody = 64 << 10
	isoLayout     = "2006-01-02T15:04:05Z"
)

// Ingester is the write path used by POST /ingest
type Ingester interface {
	Process(ctx context.Context, source ingestion.Source, payload []byte) (*mqtmodels.TelemetryReading, error)
}

// TelemetryController handles ingest and the read endpoints
type TelemetryController struct {
	ingester        Ingester
	query           *query.Service
	defaultDeviceID string
	ingestToken     string
	logger          *logger.Logger
}

// NewTelemetryController creates a new telemetry controller
func NewTelemetryController(ingester Ingester, queries *query.Service, defaultDeviceID, ingestToken string, logger *logger.Logger) *TelemetryController {
	return &TelemetryController{
		ingester:        ingester,
		query:           queries,
		defaultDeviceID: defaultDeviceID,
		ingestToken:     ingestToken,
		logger:          logger,
	}
}

// RegisterRoutes registers the telemetry routes with Gin
func (c *TelemetryController) RegisterRoutes(router *gin.Engine) {
	router.POST("/ingest", middleware.IngestAuthMiddleware(c.ingestToken), c.Ingest)

	router.GET("/latest", c.Latest)
	router.GET("/metrics", c.Metrics)
	router.GET("/metrics/prometheus", c.Prometheus)
	router.GET("/status", c.Status)
	router.GET("/errors", c.Errors)
}

func (c *TelemetryController) Ingest(ctx *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(http.StatusRequestEntityTooLarge, api_models.ErrorResponse{Error: "payload too large"})
			return
		}
		ctx.JSON(http.StatusBadRequest, api_models.ErrorResponse{Error: "unable to read request body"})
		return
	}

	if _, err := c.ingester.Process(ctx.Request.Context(), ingestion.SourceHTTP, body); err != nil {
		c.writeIngestError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, api_models.IngestResponse{OK: true})
}

func (c *TelemetryController) writeIngestError(ctx *gin.Context, err error) {
	_ = ctx.Error(err)

	message := err.Error()
	var failure *mqterrors.IngestFailure
	if errors.As(err, &failure) {
		message = failure.Reason
	}

	switch {
	case errors.Is(err, mqterrors.ErrStorageUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, api_models.ErrorResponse{Error: message})
	case errors.Is(err, mqterrors.ErrValidation), errors.Is(err, mqterrors.ErrParse), errors.Is(err, mqterrors.ErrDecode):
		ctx.JSON(http.StatusBadRequest, api_models.ErrorResponse{Error: message})
	default:
		middleware.GetLoggerFromGinContext(ctx, c.logger).ErrorWithError(err, "Unclassified ingest failure")
		ctx.JSON(http.StatusInternalServerError, api_models.ErrorResponse{Error: "internal error"})
	}
}

func (c *TelemetryController) Latest(ctx *gin.Context) {
	deviceID := c.deviceOrDefault(ctx)

	latest, err := c.query.Latest(ctx.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, mqterrors.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, api_models.ErrorResponse{Error: "no data"})
			return
		}
		c.storageError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, api_models.LatestResponse{
		ID:          latest.DeviceID,
		DeviceID:    latest.DeviceID,
		Ts:          toISO(latest.Ts),
		Temp:        latest.Temperature,
		Hum:         latest.Humidity,
		Temperature: latest.Temperature,
		Humidity:    latest.Humidity,
		Online:      latest.Online,
	})
}

func (c *TelemetryController) Metrics(ctx *gin.Context) {
	deviceID := c.deviceOrDefault(ctx)
	limit, ok := parseLimit(ctx, query.DefaultWindowLimit)
	if !ok {
		return
	}

	readings, err := c.query.MetricsWindow(ctx.Request.Context(), deviceID, limit)
	if err != nil {
		c.storageError(ctx, err)
		return
	}

	points := make([]api_models.MetricPoint, 0, len(readings))
	for _, r := range readings {
		points = append(points, api_models.MetricPoint{Ts: toISO(r.Ts), Temp: r.Temperature, Hum: r.Humidity})
	}
	ctx.JSON(http.StatusOK, points)
}

func (c *TelemetryController) Status(ctx *gin.Context) {
	deviceID := c.deviceOrDefault(ctx)

	status, err := c.query.Status(ctx.Request.Context(), deviceID)
	if err != nil {
		c.storageError(ctx, err)
		return
	}

	resp := api_models.StatusResponse{ID: status.DeviceID, Online: status.Online}
	if status.UpdatedAt != nil {
		updated := toISO(*status.UpdatedAt)
		resp.UpdatedAt = &updated
	}
	ctx.JSON(http.StatusOK, resp)
}

// Errors lists recent ingest errors. Without deviceId every device is included.
func (c *TelemetryController) Errors(ctx *gin.Context) {
	var deviceID *string
	if d := strings.TrimSpace(ctx.Query("deviceId")); d != "" {
		deviceID = &d
	}
	limit, ok := parseLimit(ctx, query.DefaultErrorsLimit)
	if !ok {
		return
	}

	entries, err := c.query.Errors(ctx.Request.Context(), deviceID, limit)
	if err != nil {
		c.storageError(ctx, err)
		return
	}

	items := make([]api_models.ErrorEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, api_models.ErrorEntry{
			ID:       strconv.FormatInt(e.ID, 10),
			DeviceID: e.DeviceID,
			Ts:       toISO(e.Ts),
			Msg:      e.Reason,
		})
	}
	ctx.JSON(http.StatusOK, items)
}

func (c *TelemetryController) Prometheus(ctx *gin.Context) {
	total, err := c.query.IngestOKTotal(ctx.Request.Context())
	if err != nil {
		c.storageError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(fmt.Sprintf("ingest_ok_total %d\n", total)))
}

func (c *TelemetryController) deviceOrDefault(ctx *gin.Context) string {
	if d := strings.TrimSpace(ctx.Query("deviceId")); d != "" {
		return d
	}
	return c.defaultDeviceID
}

func (c *TelemetryController) storageError(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	middleware.GetLoggerFromGinContext(ctx, c.logger).ErrorWithError(err, "Telemetry query failed")
	if errors.Is(err, mqterrors.ErrStorageUnavailable) {
		ctx.JSON(http.StatusServiceUnavailable, api_models.ErrorResponse{Error: "storage unavailable"})
		return
	}
	ctx.JSON(http.StatusInternalServerError, api_models.ErrorResponse{Error: "internal error"})
}

// parseLimit reads ?limit=, writing a 400 when it is not an integer
func parseLimit(ctx *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(ctx.Query("limit"))
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, api_models.ErrorResponse{Error: "limit must be an integer"})
		return 0, false
	}
	return limit, true
}

func toISO(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(isoLayout)
}
