package service

import (
	"context"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
)

// MetricsService exposes the current anchor and corridor aggregates.
type MetricsService interface {
	// ListAnchors returns all anchor aggregates ordered by anchor id.
	ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error)

	// GetAnchor returns one anchor aggregate.
	// Returns ErrAnchorNotFound if the anchor was never seen.
	GetAnchor(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error)

	// AnchorHistory returns the anchor's time-series points, newest first.
	AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*metrics.AnchorHistoryPoint, error)

	// ListCorridors returns corridor day buckets, optionally filtered to one
	// UTC date.
	ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error)
}

// AssetService exposes the verified-asset registry.
type AssetService interface {
	// ListAssets returns all tracked assets with their verification state.
	ListAssets(ctx context.Context) ([]*asset.VerifiedAsset, error)
}

// SnapshotService exposes the snapshot submission ledger.
type SnapshotService interface {
	// LatestSnapshot returns the most recent submitted snapshot.
	// Returns ErrNoSubmissions when nothing was anchored yet.
	LatestSnapshot(ctx context.Context) (*snapshot.Submission, error)
}
