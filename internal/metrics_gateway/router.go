package metrics_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stellar-anchor-watch/internal/metrics_gateway/handler"
	"github.com/stellar-anchor-watch/internal/metrics_gateway/middleware"
)

// setupRouter configures the read-only API routes and middleware. No write
// endpoint exists; all state changes flow through the pipeline worker.
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	anchorHandler *handler.AnchorHandler,
	corridorHandler *handler.CorridorHandler,
	assetHandler *handler.AssetHandler,
	snapshotHandler *handler.SnapshotHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		anchors := v1.Group("/anchors")
		{
			anchors.GET("", anchorHandler.List)
			anchors.GET("/:id", anchorHandler.GetByID)
			anchors.GET("/:id/history", anchorHandler.GetHistory)
		}

		v1.GET("/corridors", corridorHandler.List)
		v1.GET("/assets", assetHandler.List)
		v1.GET("/snapshots/latest", snapshotHandler.Latest)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
