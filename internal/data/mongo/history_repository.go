// Package mongo provides the MongoDB implementation of the append-only
// time-series repositories. History points are inserted once and never
// mutated or deleted; they exist purely for chart rendering through the
// metrics gateway.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stellar-anchor-watch/internal/domain/metrics"
)

const (
	// AnchorHistoryCollectionName holds point-in-time anchor aggregate copies
	AnchorHistoryCollectionName = "anchor_metrics_history"
	// TrustlineSnapshotCollectionName holds per-asset trustline count snapshots
	TrustlineSnapshotCollectionName = "trustline_snapshots"
)

// HistoryRepository implements the metrics.HistoryRepository interface for MongoDB
type HistoryRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewHistoryRepository creates a new MongoDB history repository
func NewHistoryRepository(logger *slog.Logger, db *mongo.Database) metrics.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// AppendAnchorPoint appends one immutable anchor aggregate point
func (r *HistoryRepository) AppendAnchorPoint(ctx context.Context, point *metrics.AnchorHistoryPoint) error {
	collection := r.db.Collection(AnchorHistoryCollectionName)

	if _, err := collection.InsertOne(ctx, point); err != nil {
		r.logger.Error("Failed to append anchor history point",
			"anchor_id", point.AnchorID,
			"error", err)
		return fmt.Errorf("failed to append anchor history point: %w", err)
	}

	return nil
}

// AppendTrustlineSnapshot appends one immutable trustline count observation
func (r *HistoryRepository) AppendTrustlineSnapshot(ctx context.Context, snap *metrics.TrustlineSnapshot) error {
	collection := r.db.Collection(TrustlineSnapshotCollectionName)

	if _, err := collection.InsertOne(ctx, snap); err != nil {
		r.logger.Error("Failed to append trustline snapshot",
			"asset_code", snap.AssetCode,
			"asset_issuer", snap.AssetIssuer,
			"error", err)
		return fmt.Errorf("failed to append trustline snapshot: %w", err)
	}

	return nil
}

// AnchorHistory returns anchor points in a time range, newest first
func (r *HistoryRepository) AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*metrics.AnchorHistoryPoint, error) {
	collection := r.db.Collection(AnchorHistoryCollectionName)

	filter := bson.M{
		"anchor_id": anchorID,
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to query anchor history",
			"anchor_id", anchorID,
			"error", err)
		return nil, fmt.Errorf("failed to query anchor history: %w", err)
	}
	defer cur.Close(ctx)

	var points []*metrics.AnchorHistoryPoint
	if err := cur.All(ctx, &points); err != nil {
		return nil, fmt.Errorf("failed to decode anchor history: %w", err)
	}

	return points, nil
}

// TrustlineHistory returns trustline snapshots for one asset, newest first
func (r *HistoryRepository) TrustlineHistory(ctx context.Context, assetCode, assetIssuer string, limit int) ([]*metrics.TrustlineSnapshot, error) {
	collection := r.db.Collection(TrustlineSnapshotCollectionName)

	filter := bson.M{"asset_code": assetCode, "asset_issuer": assetIssuer}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to query trustline history",
			"asset_code", assetCode,
			"asset_issuer", assetIssuer,
			"error", err)
		return nil, fmt.Errorf("failed to query trustline history: %w", err)
	}
	defer cur.Close(ctx)

	var snaps []*metrics.TrustlineSnapshot
	if err := cur.All(ctx, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode trustline history: %w", err)
	}

	return snaps, nil
}
