package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
	"github.com/stellar-anchor-watch/internal/metrics_gateway/service"
)

// CorridorHandler handles HTTP requests for corridor day buckets
type CorridorHandler struct {
	metricsService service.MetricsService
	logger         *slog.Logger
}

// NewCorridorHandler creates a new corridor handler
func NewCorridorHandler(logger *slog.Logger, metricsService service.MetricsService) *CorridorHandler {
	return &CorridorHandler{
		metricsService: metricsService,
		logger:         logger,
	}
}

// List returns corridor day buckets, optionally filtered to one UTC date
func (h *CorridorHandler) List(c *gin.Context) {
	date := c.Query("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			RespondBadRequest(c, "Invalid date, expected YYYY-MM-DD")
			return
		}
	}

	corridors, err := h.metricsService.ListCorridors(c.Request.Context(), date)
	if err != nil {
		h.logger.Error("Failed to list corridors", "date", date, "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]CorridorResponse, 0, len(corridors))
	for _, corridor := range corridors {
		responses = append(responses, mapCorridorToResponse(corridor))
	}
	RespondOK(c, responses)
}

// AssetHandler handles HTTP requests for the verified-asset registry
type AssetHandler struct {
	assetService service.AssetService
	logger       *slog.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(logger *slog.Logger, assetService service.AssetService) *AssetHandler {
	return &AssetHandler{
		assetService: assetService,
		logger:       logger,
	}
}

// List returns all tracked assets with their verification state
func (h *AssetHandler) List(c *gin.Context) {
	assets, err := h.assetService.ListAssets(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list assets", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		responses = append(responses, mapAssetToResponse(a))
	}
	RespondOK(c, responses)
}

// SnapshotHandler handles HTTP requests for anchored snapshots
type SnapshotHandler struct {
	snapshotService service.SnapshotService
	logger          *slog.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(logger *slog.Logger, snapshotService service.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotService: snapshotService,
		logger:          logger,
	}
}

// Latest returns the most recent submitted snapshot, 404 before the first one
func (h *SnapshotHandler) Latest(c *gin.Context) {
	sub, err := h.snapshotService.LatestSnapshot(c.Request.Context())
	if err != nil {
		var noSubmissions snapshot.ErrNoSubmissions
		if errors.As(err, &noSubmissions) {
			RespondNotFound(c, "No snapshot has been anchored yet")
			return
		}
		h.logger.Error("Failed to get latest snapshot", "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, mapSnapshotToResponse(sub))
}
