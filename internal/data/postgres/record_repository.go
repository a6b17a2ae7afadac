package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
)

// RecordRepository implements the record.Repository interface for PostgreSQL.
// All upserts use ON CONFLICT DO NOTHING on the natural ledger key, which is
// what makes re-ingestion of an already-seen batch a no-op.
type RecordRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewRecordRepository creates a new PostgreSQL record repository
func NewRecordRepository(logger *slog.Logger, db *persistence.PostgresDB) record.Repository {
	return &RecordRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic batch commits.
func (r *RecordRepository) WithTx(tx pgx.Tx) record.Repository {
	return &RecordRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// UpsertPayments inserts payments by natural key, skipping duplicates
func (r *RecordRepository) UpsertPayments(ctx context.Context, payments []*record.Payment) (int, error) {
	query := `
		INSERT INTO payments (op_id, tx_hash, source_account, dest_account, anchor_id,
			asset_code, asset_issuer, dest_asset_code, dest_asset_issuer,
			amount, amount_usd, successful, settlement_ms, ledger_sequence, closed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (op_id) DO NOTHING
	`

	inserted := 0
	for _, p := range payments {
		result, err := r.querier.Exec(ctx, query,
			p.OpID, p.TxHash, p.SourceAccount, p.DestAccount, p.AnchorID,
			p.AssetCode, p.AssetIssuer, p.DestAssetCode, p.DestAssetIssuer,
			p.Amount, p.AmountUSD, p.Successful, p.SettlementMs, p.LedgerSequence, p.ClosedAt, p.IngestedAt,
		)
		if err != nil {
			r.logger.Error("Failed to upsert payment", "op_id", p.OpID, "error", err)
			return inserted, fmt.Errorf("failed to upsert payment %s: %w", p.OpID, err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// UpsertTrustlineEvents inserts trustline events by natural key, skipping duplicates
func (r *RecordRepository) UpsertTrustlineEvents(ctx context.Context, events []*record.TrustlineEvent) (int, error) {
	query := `
		INSERT INTO trustline_events (op_id, account, asset_code, asset_issuer, action,
			limit_amount, ledger_sequence, closed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (op_id) DO NOTHING
	`

	inserted := 0
	for _, e := range events {
		result, err := r.querier.Exec(ctx, query,
			e.OpID, e.Account, e.AssetCode, e.AssetIssuer, e.Action,
			e.LimitAmount, e.LedgerSequence, e.ClosedAt, e.IngestedAt,
		)
		if err != nil {
			r.logger.Error("Failed to upsert trustline event", "op_id", e.OpID, "error", err)
			return inserted, fmt.Errorf("failed to upsert trustline event %s: %w", e.OpID, err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// UpsertAccountMerges inserts account merges by natural key, skipping duplicates
func (r *RecordRepository) UpsertAccountMerges(ctx context.Context, merges []*record.AccountMerge) (int, error) {
	query := `
		INSERT INTO account_merges (op_id, merged_account, into_account, ledger_sequence, closed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (op_id) DO NOTHING
	`

	inserted := 0
	for _, m := range merges {
		result, err := r.querier.Exec(ctx, query,
			m.OpID, m.MergedAccount, m.IntoAccount, m.LedgerSequence, m.ClosedAt, m.IngestedAt,
		)
		if err != nil {
			r.logger.Error("Failed to upsert account merge", "op_id", m.OpID, "error", err)
			return inserted, fmt.Errorf("failed to upsert account merge %s: %w", m.OpID, err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// UpsertFeeBumps inserts fee-bump transactions by natural key, skipping duplicates
func (r *RecordRepository) UpsertFeeBumps(ctx context.Context, feeBumps []*record.FeeBumpTransaction) (int, error) {
	query := `
		INSERT INTO fee_bump_transactions (tx_hash, fee_source, inner_tx_hash, fee_charged,
			successful, ledger_sequence, closed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING
	`

	inserted := 0
	for _, f := range feeBumps {
		result, err := r.querier.Exec(ctx, query,
			f.TxHash, f.FeeSource, f.InnerTxHash, f.FeeCharged,
			f.Successful, f.LedgerSequence, f.ClosedAt, f.IngestedAt,
		)
		if err != nil {
			r.logger.Error("Failed to upsert fee bump", "tx_hash", f.TxHash, "error", err)
			return inserted, fmt.Errorf("failed to upsert fee bump %s: %w", f.TxHash, err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// GetPaymentByOpID retrieves a payment by its natural key
func (r *RecordRepository) GetPaymentByOpID(ctx context.Context, opID string) (*record.Payment, error) {
	query := `
		SELECT op_id, tx_hash, source_account, dest_account, anchor_id,
			asset_code, asset_issuer, dest_asset_code, dest_asset_issuer,
			amount, amount_usd, successful, settlement_ms, ledger_sequence, closed_at, ingested_at
		FROM payments
		WHERE op_id = $1
	`

	var p record.Payment
	err := r.querier.QueryRow(ctx, query, opID).Scan(
		&p.OpID, &p.TxHash, &p.SourceAccount, &p.DestAccount, &p.AnchorID,
		&p.AssetCode, &p.AssetIssuer, &p.DestAssetCode, &p.DestAssetIssuer,
		&p.Amount, &p.AmountUSD, &p.Successful, &p.SettlementMs, &p.LedgerSequence, &p.ClosedAt, &p.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, record.ErrPaymentNotFound{OpID: opID}
		}
		r.logger.Error("Failed to get payment", "op_id", opID, "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &p, nil
}

// PaymentsForAnchor returns every payment attributed to an anchor, oldest first
func (r *RecordRepository) PaymentsForAnchor(ctx context.Context, anchorID string) ([]*record.Payment, error) {
	query := `
		SELECT op_id, tx_hash, source_account, dest_account, anchor_id,
			asset_code, asset_issuer, dest_asset_code, dest_asset_issuer,
			amount, amount_usd, successful, settlement_ms, ledger_sequence, closed_at, ingested_at
		FROM payments
		WHERE anchor_id = $1
		ORDER BY closed_at ASC, op_id ASC
	`

	rows, err := r.querier.Query(ctx, query, anchorID)
	if err != nil {
		r.logger.Error("Failed to query payments for anchor", "anchor_id", anchorID, "error", err)
		return nil, fmt.Errorf("failed to query payments for anchor: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// PaymentsForCorridorDay returns the payments in one corridor day bucket.
// The corridor key is not stored; the query derives it from the asset pair
// columns the same way record.Payment.CorridorKey does, so the predicate
// runs in the database rather than filtering the whole day in memory.
func (r *RecordRepository) PaymentsForCorridorDay(ctx context.Context, corridorKey string, day string) ([]*record.Payment, error) {
	query := `
		SELECT op_id, tx_hash, source_account, dest_account, anchor_id,
			asset_code, asset_issuer, dest_asset_code, dest_asset_issuer,
			amount, amount_usd, successful, settlement_ms, ledger_sequence, closed_at, ingested_at
		FROM payments
		WHERE closed_at >= $1::date AND closed_at < ($1::date + INTERVAL '1 day')
		AND (CASE WHEN asset_issuer = '' THEN 'XLM' ELSE asset_code || ':' || asset_issuer END
			|| '→' ||
			CASE WHEN dest_asset_issuer = '' THEN 'XLM' ELSE dest_asset_code || ':' || dest_asset_issuer END) = $2
		ORDER BY closed_at ASC, op_id ASC
	`

	rows, err := r.querier.Query(ctx, query, day, corridorKey)
	if err != nil {
		r.logger.Error("Failed to query payments for corridor day", "corridor_key", corridorKey, "date", day, "error", err)
		return nil, fmt.Errorf("failed to query payments for corridor day: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// CountPaymentsForAnchor counts raw payments attributable to an anchor
func (r *RecordRepository) CountPaymentsForAnchor(ctx context.Context, anchorID string) (int64, error) {
	query := `SELECT COUNT(*) FROM payments WHERE anchor_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, anchorID).Scan(&count); err != nil {
		r.logger.Error("Failed to count payments for anchor", "anchor_id", anchorID, "error", err)
		return 0, fmt.Errorf("failed to count payments for anchor: %w", err)
	}

	return count, nil
}

// TrustlineCountForAsset counts live trustlines observed for an asset
func (r *RecordRepository) TrustlineCountForAsset(ctx context.Context, assetCode, assetIssuer string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(CASE action WHEN 'removed' THEN -1 ELSE 0 END) +
			SUM(CASE action WHEN 'created' THEN 1 ELSE 0 END), 0)
		FROM trustline_events
		WHERE asset_code = $1 AND asset_issuer = $2
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, assetCode, assetIssuer).Scan(&count); err != nil {
		r.logger.Error("Failed to count trustlines for asset", "asset_code", assetCode, "asset_issuer", assetIssuer, "error", err)
		return 0, fmt.Errorf("failed to count trustlines for asset: %w", err)
	}

	if count < 0 {
		count = 0
	}
	return count, nil
}

// PaymentVolumeForAsset sums successful payment volume in an asset since a point in time
func (r *RecordRepository) PaymentVolumeForAsset(ctx context.Context, assetCode, assetIssuer string, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE asset_code = $1 AND asset_issuer = $2 AND successful AND closed_at >= $3
	`

	var volume int64
	if err := r.querier.QueryRow(ctx, query, assetCode, assetIssuer, since).Scan(&volume); err != nil {
		r.logger.Error("Failed to sum payment volume for asset", "asset_code", assetCode, "asset_issuer", assetIssuer, "error", err)
		return 0, fmt.Errorf("failed to sum payment volume for asset: %w", err)
	}

	return volume, nil
}

func scanPayments(rows pgx.Rows) ([]*record.Payment, error) {
	var payments []*record.Payment
	for rows.Next() {
		var p record.Payment
		err := rows.Scan(
			&p.OpID, &p.TxHash, &p.SourceAccount, &p.DestAccount, &p.AnchorID,
			&p.AssetCode, &p.AssetIssuer, &p.DestAssetCode, &p.DestAssetIssuer,
			&p.Amount, &p.AmountUSD, &p.Successful, &p.SettlementMs, &p.LedgerSequence, &p.ClosedAt, &p.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payments: %w", err)
	}

	return payments, nil
}
