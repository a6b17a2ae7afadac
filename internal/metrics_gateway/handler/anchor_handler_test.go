package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMetricsService struct {
	mock.Mock
}

func (m *MockMetricsService) ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.AnchorMetrics), args.Error(1)
}

func (m *MockMetricsService) GetAnchor(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	args := m.Called(ctx, anchorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metrics.AnchorMetrics), args.Error(1)
}

func (m *MockMetricsService) AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*metrics.AnchorHistoryPoint, error) {
	args := m.Called(ctx, anchorID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.AnchorHistoryPoint), args.Error(1)
}

func (m *MockMetricsService) ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metrics.CorridorMetrics), args.Error(1)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.Default()
}

func testAnchor(anchorID string) *metrics.AnchorMetrics {
	return &metrics.AnchorMetrics{
		AnchorID:         anchorID,
		Registration:     metrics.RegistrationRegistered,
		TotalTxns:        10,
		SuccessfulTxns:   9,
		FailedTxns:       1,
		AvgSettlementMs:  1500,
		TotalVolume:      100_000_000,
		TotalVolumeUSD:   1000,
		ReliabilityScore: 90,
		Status:           metrics.StatusGreen,
		LastActivityAt:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
	}
}

func TestAnchorHandler_List(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		mockService.On("ListAnchors", mock.Anything).
			Return([]*metrics.AnchorMetrics{testAnchor("GANCHORA"), testAnchor("GANCHORB")}, nil)

		router := setupTestRouter()
		router.GET("/anchors", handler.List)

		req, _ := http.NewRequest(http.MethodGet, "/anchors", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var topLevelResponse Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &topLevelResponse))

		data, err := json.Marshal(topLevelResponse.Data)
		require.NoError(t, err)
		var anchors []AnchorResponse
		require.NoError(t, json.Unmarshal(data, &anchors))

		require.Len(t, anchors, 2)
		assert.Equal(t, "GANCHORA", anchors[0].AnchorID)
		assert.Equal(t, 90, anchors[0].ReliabilityScore)
		assert.Equal(t, "green", anchors[0].Status)
	})

	t.Run("ServiceError", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		mockService.On("ListAnchors", mock.Anything).Return(nil, errors.New("database down"))

		router := setupTestRouter()
		router.GET("/anchors", handler.List)

		req, _ := http.NewRequest(http.MethodGet, "/anchors", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestAnchorHandler_GetByID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		mockService.On("GetAnchor", mock.Anything, "GANCHORA").Return(testAnchor("GANCHORA"), nil)

		router := setupTestRouter()
		router.GET("/anchors/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/anchors/GANCHORA", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var topLevelResponse Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &topLevelResponse))
		data, err := json.Marshal(topLevelResponse.Data)
		require.NoError(t, err)
		var anchor AnchorResponse
		require.NoError(t, json.Unmarshal(data, &anchor))
		assert.Equal(t, "GANCHORA", anchor.AnchorID)
		assert.Equal(t, "registered", anchor.Registration)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		mockService.On("GetAnchor", mock.Anything, "GUNKNOWN").
			Return(nil, metrics.ErrAnchorNotFound{AnchorID: "GUNKNOWN"})

		router := setupTestRouter()
		router.GET("/anchors/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/anchors/GUNKNOWN", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAnchorHandler_GetHistory(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		points := []*metrics.AnchorHistoryPoint{
			metrics.HistoryPointFrom(testAnchor("GANCHORA"), time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)),
		}
		mockService.On("AnchorHistory", mock.Anything, "GANCHORA", mock.Anything, mock.Anything, 100).
			Return(points, nil)

		router := setupTestRouter()
		router.GET("/anchors/:id/history", handler.GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/anchors/GANCHORA/history", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var topLevelResponse Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &topLevelResponse))
		data, err := json.Marshal(topLevelResponse.Data)
		require.NoError(t, err)
		var history []AnchorHistoryPointResponse
		require.NoError(t, json.Unmarshal(data, &history))
		require.Len(t, history, 1)
		assert.Equal(t, int64(10), history[0].TotalTxns)
	})

	t.Run("RejectsMalformedWindow", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		router := setupTestRouter()
		router.GET("/anchors/:id/history", handler.GetHistory)

		req, _ := http.NewRequest(http.MethodGet, "/anchors/GANCHORA/history?from=notatime", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "AnchorHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RejectsInvertedWindow", func(t *testing.T) {
		mockService := new(MockMetricsService)
		handler := NewAnchorHandler(logger, mockService)

		router := setupTestRouter()
		router.GET("/anchors/:id/history", handler.GetHistory)

		url := "/anchors/GANCHORA/history?from=2026-03-15T00:00:00Z&to=2026-03-01T00:00:00Z"
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
