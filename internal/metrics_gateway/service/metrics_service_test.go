package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMetricsRepository struct {
	mock.Mock
}

func (m *MockMetricsRepository) WithTx(tx pgx.Tx) metrics.Repository {
	m.Called(tx)
	return m
}

func (m *MockMetricsRepository) GetAnchor(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	args := m.Called(ctx, anchorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metrics.AnchorMetrics), args.Error(1)
}

func (m *MockMetricsRepository) LockAnchorForUpdate(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	args := m.Called(ctx, anchorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metrics.AnchorMetrics), args.Error(1)
}

func (m *MockMetricsRepository) SaveAnchor(ctx context.Context, a *metrics.AnchorMetrics) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockMetricsRepository) PromoteAnchor(ctx context.Context, anchorID string) error {
	args := m.Called(ctx, anchorID)
	return args.Error(0)
}

func (m *MockMetricsRepository) ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.AnchorMetrics), args.Error(1)
}

func (m *MockMetricsRepository) LockCorridorForUpdate(ctx context.Context, corridorKey, date string) (*metrics.CorridorMetrics, error) {
	args := m.Called(ctx, corridorKey, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metrics.CorridorMetrics), args.Error(1)
}

func (m *MockMetricsRepository) SaveCorridor(ctx context.Context, c *metrics.CorridorMetrics) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockMetricsRepository) ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.CorridorMetrics), args.Error(1)
}

func (m *MockMetricsRepository) SumCorridorsForAnchor(ctx context.Context, anchorID string, from, to string) (int64, int64, error) {
	args := m.Called(ctx, anchorID, from, to)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

var _ metrics.Repository = (*MockMetricsRepository)(nil)

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) AppendAnchorPoint(ctx context.Context, point *metrics.AnchorHistoryPoint) error {
	args := m.Called(ctx, point)
	return args.Error(0)
}

func (m *MockHistoryRepository) AppendTrustlineSnapshot(ctx context.Context, snap *metrics.TrustlineSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockHistoryRepository) AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*metrics.AnchorHistoryPoint, error) {
	args := m.Called(ctx, anchorID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.AnchorHistoryPoint), args.Error(1)
}

func (m *MockHistoryRepository) TrustlineHistory(ctx context.Context, assetCode, assetIssuer string, limit int) ([]*metrics.TrustlineSnapshot, error) {
	args := m.Called(ctx, assetCode, assetIssuer, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.TrustlineSnapshot), args.Error(1)
}

var _ metrics.HistoryRepository = (*MockHistoryRepository)(nil)

func TestMetricsService_AnchorHistory(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	t.Run("ReturnsSeriesForKnownAnchor", func(t *testing.T) {
		metricsRepo := new(MockMetricsRepository)
		historyRepo := new(MockHistoryRepository)
		svc := NewMetricsService(metricsRepo, historyRepo)

		anchor := &metrics.AnchorMetrics{AnchorID: "GANCHORA"}
		points := []*metrics.AnchorHistoryPoint{{AnchorID: "GANCHORA", Timestamp: to}}

		metricsRepo.On("GetAnchor", ctx, "GANCHORA").Return(anchor, nil)
		historyRepo.On("AnchorHistory", ctx, "GANCHORA", from, to, 100).Return(points, nil)

		result, err := svc.AnchorHistory(ctx, "GANCHORA", from, to, 100)
		require.NoError(t, err)
		assert.Equal(t, points, result)
	})

	t.Run("UnknownAnchorIsNotFoundNotEmpty", func(t *testing.T) {
		metricsRepo := new(MockMetricsRepository)
		historyRepo := new(MockHistoryRepository)
		svc := NewMetricsService(metricsRepo, historyRepo)

		metricsRepo.On("GetAnchor", ctx, "GUNKNOWN").
			Return(nil, metrics.ErrAnchorNotFound{AnchorID: "GUNKNOWN"})

		_, err := svc.AnchorHistory(ctx, "GUNKNOWN", from, to, 100)
		require.Error(t, err)
		assert.ErrorIs(t, err, metrics.ErrAnchorNotFound{})

		historyRepo.AssertNotCalled(t, "AnchorHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
