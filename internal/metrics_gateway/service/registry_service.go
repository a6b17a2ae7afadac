package service

import (
	"context"

	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
)

// AssetServiceImpl implements AssetService over the verified-asset store.
type AssetServiceImpl struct {
	assetRepo asset.Repository
}

// NewAssetService creates a new asset service
func NewAssetService(assetRepo asset.Repository) AssetService {
	return &AssetServiceImpl{assetRepo: assetRepo}
}

// ListAssets returns all tracked assets with their verification state
func (s *AssetServiceImpl) ListAssets(ctx context.Context) ([]*asset.VerifiedAsset, error) {
	return s.assetRepo.List(ctx)
}

// SnapshotServiceImpl implements SnapshotService over the submission ledger.
type SnapshotServiceImpl struct {
	submissionRepo snapshot.Repository
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(submissionRepo snapshot.Repository) SnapshotService {
	return &SnapshotServiceImpl{submissionRepo: submissionRepo}
}

// LatestSnapshot returns the most recent submitted snapshot
func (s *SnapshotServiceImpl) LatestSnapshot(ctx context.Context) (*snapshot.Submission, error) {
	return s.submissionRepo.Latest(ctx)
}
