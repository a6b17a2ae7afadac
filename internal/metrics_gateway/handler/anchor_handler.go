package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/metrics_gateway/service"
)

// AnchorHandler handles HTTP requests for anchor aggregates
type AnchorHandler struct {
	metricsService service.MetricsService
	logger         *slog.Logger
}

// NewAnchorHandler creates a new anchor handler
func NewAnchorHandler(logger *slog.Logger, metricsService service.MetricsService) *AnchorHandler {
	return &AnchorHandler{
		metricsService: metricsService,
		logger:         logger,
	}
}

// List returns all anchor aggregates ordered by anchor id
func (h *AnchorHandler) List(c *gin.Context) {
	anchors, err := h.metricsService.ListAnchors(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list anchors", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]AnchorResponse, 0, len(anchors))
	for _, a := range anchors {
		responses = append(responses, mapAnchorToResponse(a))
	}
	RespondOK(c, responses)
}

// GetByID returns one anchor aggregate, 404 when the anchor was never seen
func (h *AnchorHandler) GetByID(c *gin.Context) {
	anchorID := c.Param("id")

	anchor, err := h.metricsService.GetAnchor(c.Request.Context(), anchorID)
	if err != nil {
		var notFound metrics.ErrAnchorNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Anchor not found")
			return
		}
		h.logger.Error("Failed to get anchor", "anchor_id", anchorID, "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, mapAnchorToResponse(anchor))
}

// GetHistory returns the anchor's time-series points, newest first
func (h *AnchorHandler) GetHistory(c *gin.Context) {
	anchorID := c.Param("id")

	var params HistoryQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	from, to, err := parseHistoryWindow(params.From, params.To)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	points, err := h.metricsService.AnchorHistory(c.Request.Context(), anchorID, from, to, params.Limit)
	if err != nil {
		var notFound metrics.ErrAnchorNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Anchor not found")
			return
		}
		h.logger.Error("Failed to get anchor history", "anchor_id", anchorID, "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]AnchorHistoryPointResponse, 0, len(points))
	for _, p := range points {
		responses = append(responses, mapHistoryPointToResponse(p))
	}
	RespondOK(c, responses)
}

// parseHistoryWindow parses optional RFC 3339 bounds, defaulting to the last
// 30 days.
func parseHistoryWindow(fromParam, toParam string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	var err error
	if fromParam != "" {
		if from, err = time.Parse(time.RFC3339, fromParam); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'from' timestamp, expected RFC 3339")
		}
	}
	if toParam != "" {
		if to, err = time.Parse(time.RFC3339, toParam); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'to' timestamp, expected RFC 3339")
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("'to' must not precede 'from'")
	}
	return from, to, nil
}
