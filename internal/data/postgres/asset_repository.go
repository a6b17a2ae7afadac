package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
)

const assetColumns = `asset_code, asset_issuer, verification_status, reputation_score,
		registry_verified, issuer_metadata_verified, suspicious_reports_count,
		unresolved_reports_count, trustline_count, tx_volume, score_version, first_seen_at, updated_at`

// AssetRepository implements the asset.Repository interface for PostgreSQL
type AssetRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewAssetRepository creates a new PostgreSQL asset repository
func NewAssetRepository(logger *slog.Logger, db *persistence.PostgresDB) asset.Repository {
	return &AssetRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so the asset update and its
// audit row commit atomically.
func (r *AssetRepository) WithTx(tx pgx.Tx) asset.Repository {
	return &AssetRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Get returns the current state of one asset
func (r *AssetRepository) Get(ctx context.Context, code, issuer string) (*asset.VerifiedAsset, error) {
	query := fmt.Sprintf(`SELECT %s FROM verified_assets WHERE asset_code = $1 AND asset_issuer = $2`, assetColumns)

	a, err := r.scanAssetRow(r.querier.QueryRow(ctx, query, code, issuer))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, asset.ErrAssetNotFound{Code: code, Issuer: issuer}
		}
		r.logger.Error("Failed to get verified asset", "asset_code", code, "asset_issuer", issuer, "error", err)
		return nil, fmt.Errorf("failed to get verified asset: %w", err)
	}

	return a, nil
}

// LockForUpdate locks the asset row inside the surrounding transaction,
// creating the unverified row on first sighting.
func (r *AssetRepository) LockForUpdate(ctx context.Context, code, issuer string) (*asset.VerifiedAsset, error) {
	insert := `
		INSERT INTO verified_assets (asset_code, asset_issuer, verification_status, score_version, first_seen_at, updated_at)
		VALUES ($1, $2, 'unverified', 1, NOW(), NOW())
		ON CONFLICT (asset_code, asset_issuer) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, insert, code, issuer); err != nil {
		r.logger.Error("Failed to ensure verified asset row", "asset_code", code, "asset_issuer", issuer, "error", err)
		return nil, fmt.Errorf("failed to ensure verified asset row: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM verified_assets WHERE asset_code = $1 AND asset_issuer = $2 FOR UPDATE`, assetColumns)

	a, err := r.scanAssetRow(r.querier.QueryRow(ctx, query, code, issuer))
	if err != nil {
		r.logger.Error("Failed to lock verified asset", "asset_code", code, "asset_issuer", issuer, "error", err)
		return nil, fmt.Errorf("failed to lock verified asset: %w", err)
	}

	return a, nil
}

// SaveWithHistory writes the updated asset row and appends the audit row.
// Callers run this inside a transaction via WithTx; the two statements must
// never be observable separately.
func (r *AssetRepository) SaveWithHistory(ctx context.Context, a *asset.VerifiedAsset, h *asset.HistoryEntry) error {
	update := `
		UPDATE verified_assets
		SET verification_status = $1, reputation_score = $2, registry_verified = $3,
			issuer_metadata_verified = $4, suspicious_reports_count = $5,
			unresolved_reports_count = $6, trustline_count = $7, tx_volume = $8,
			score_version = $9, updated_at = $10
		WHERE asset_code = $11 AND asset_issuer = $12
	`

	result, err := r.querier.Exec(ctx, update,
		a.VerificationStatus, a.ReputationScore, a.RegistryVerified,
		a.IssuerMetadataVerified, a.SuspiciousReports,
		a.UnresolvedReports, a.TrustlineCount, a.TxVolume,
		a.ScoreVersion, time.Now(),
		a.AssetCode, a.AssetIssuer,
	)
	if err != nil {
		r.logger.Error("Failed to save verified asset", "asset_code", a.AssetCode, "asset_issuer", a.AssetIssuer, "error", err)
		return fmt.Errorf("failed to save verified asset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return asset.ErrAssetNotFound{Code: a.AssetCode, Issuer: a.AssetIssuer}
	}

	if h == nil {
		return nil
	}

	history := `
		INSERT INTO asset_verification_history (id, asset_code, asset_issuer,
			previous_status, new_status, previous_score, new_score, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.querier.Exec(ctx, history,
		h.ID, h.AssetCode, h.AssetIssuer,
		h.PreviousStatus, h.NewStatus, h.PreviousScore, h.NewScore, h.Reason, h.Actor, h.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append asset verification history", "asset_code", a.AssetCode, "asset_issuer", a.AssetIssuer, "error", err)
		return fmt.Errorf("failed to append asset verification history: %w", err)
	}

	return nil
}

// List returns all tracked assets ordered by (code, issuer)
func (r *AssetRepository) List(ctx context.Context) ([]*asset.VerifiedAsset, error) {
	query := fmt.Sprintf(`SELECT %s FROM verified_assets ORDER BY asset_code ASC, asset_issuer ASC`, assetColumns)

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list verified assets", "error", err)
		return nil, fmt.Errorf("failed to list verified assets: %w", err)
	}
	defer rows.Close()

	var assets []*asset.VerifiedAsset
	for rows.Next() {
		a, err := r.scanAssetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verified asset: %w", err)
		}
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over verified assets: %w", err)
	}

	return assets, nil
}

// History returns the audit trail for one asset, oldest first
func (r *AssetRepository) History(ctx context.Context, code, issuer string) ([]*asset.HistoryEntry, error) {
	query := `
		SELECT id, asset_code, asset_issuer, previous_status, new_status,
			previous_score, new_score, reason, actor, created_at
		FROM asset_verification_history
		WHERE asset_code = $1 AND asset_issuer = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.querier.Query(ctx, query, code, issuer)
	if err != nil {
		r.logger.Error("Failed to query asset verification history", "asset_code", code, "asset_issuer", issuer, "error", err)
		return nil, fmt.Errorf("failed to query asset verification history: %w", err)
	}
	defer rows.Close()

	var entries []*asset.HistoryEntry
	for rows.Next() {
		var h asset.HistoryEntry
		err := rows.Scan(
			&h.ID, &h.AssetCode, &h.AssetIssuer, &h.PreviousStatus, &h.NewStatus,
			&h.PreviousScore, &h.NewScore, &h.Reason, &h.Actor, &h.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset verification history: %w", err)
		}
		entries = append(entries, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over asset verification history: %w", err)
	}

	return entries, nil
}

func (r *AssetRepository) scanAssetRow(row rowScanner) (*asset.VerifiedAsset, error) {
	var a asset.VerifiedAsset
	err := row.Scan(
		&a.AssetCode, &a.AssetIssuer, &a.VerificationStatus, &a.ReputationScore,
		&a.RegistryVerified, &a.IssuerMetadataVerified, &a.SuspiciousReports,
		&a.UnresolvedReports, &a.TrustlineCount, &a.TxVolume, &a.ScoreVersion, &a.FirstSeenAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
