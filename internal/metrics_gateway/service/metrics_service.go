package service

import (
	"context"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/metrics"
)

// MetricsServiceImpl implements MetricsService over the aggregate store and
// the append-only history store.
type MetricsServiceImpl struct {
	metricsRepo metrics.Repository
	historyRepo metrics.HistoryRepository
}

// NewMetricsService creates a new metrics service
func NewMetricsService(metricsRepo metrics.Repository, historyRepo metrics.HistoryRepository) MetricsService {
	return &MetricsServiceImpl{
		metricsRepo: metricsRepo,
		historyRepo: historyRepo,
	}
}

// ListAnchors returns all anchor aggregates ordered by anchor id
func (s *MetricsServiceImpl) ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error) {
	return s.metricsRepo.ListAnchors(ctx)
}

// GetAnchor returns one anchor aggregate, or ErrAnchorNotFound
func (s *MetricsServiceImpl) GetAnchor(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	return s.metricsRepo.GetAnchor(ctx, anchorID)
}

// AnchorHistory returns the anchor's time-series points, newest first. The
// anchor must exist; querying history for an unknown anchor returns
// ErrAnchorNotFound rather than an empty series.
func (s *MetricsServiceImpl) AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*metrics.AnchorHistoryPoint, error) {
	if _, err := s.metricsRepo.GetAnchor(ctx, anchorID); err != nil {
		return nil, err
	}
	return s.historyRepo.AnchorHistory(ctx, anchorID, from, to, limit)
}

// ListCorridors returns corridor day buckets, optionally filtered to one date
func (s *MetricsServiceImpl) ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error) {
	return s.metricsRepo.ListCorridors(ctx, date)
}
