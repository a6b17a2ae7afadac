package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
)

const anchorColumns = `anchor_id, registration, total_transactions, successful_transactions,
		failed_transactions, avg_settlement_ms, total_volume, total_volume_usd,
		reliability_score, status, score_version, last_activity_at, updated_at`

const corridorColumns = `corridor_key, date, anchor_id, total_payments, successful_payments,
		failed_payments, volume, volume_usd, success_rate_bp, updated_at`

// MetricsRepository implements the metrics.Repository interface for PostgreSQL
type MetricsRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewMetricsRepository creates a new PostgreSQL metrics repository
func NewMetricsRepository(logger *slog.Logger, db *persistence.PostgresDB) metrics.Repository {
	return &MetricsRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction. Aggregation passes rebind to
// the transaction so the lock, the update, and the outbox acknowledgement
// commit as one unit.
func (r *MetricsRepository) WithTx(tx pgx.Tx) metrics.Repository {
	return &MetricsRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// GetAnchor returns the current aggregate for an anchor
func (r *MetricsRepository) GetAnchor(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	query := fmt.Sprintf(`SELECT %s FROM anchor_metrics WHERE anchor_id = $1`, anchorColumns)

	m, err := r.scanAnchorRow(r.querier.QueryRow(ctx, query, anchorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metrics.ErrAnchorNotFound{AnchorID: anchorID}
		}
		r.logger.Error("Failed to get anchor metrics", "anchor_id", anchorID, "error", err)
		return nil, fmt.Errorf("failed to get anchor metrics: %w", err)
	}

	return m, nil
}

// LockAnchorForUpdate locks the anchor row inside the surrounding transaction,
// creating a provisional row if the anchor has never been seen. Missing
// registration is a normal out-of-order condition, not an error.
func (r *MetricsRepository) LockAnchorForUpdate(ctx context.Context, anchorID string) (*metrics.AnchorMetrics, error) {
	insert := `
		INSERT INTO anchor_metrics (anchor_id, registration, status, score_version, last_activity_at, updated_at)
		VALUES ($1, 'provisional', 'red', 1, to_timestamp(0), NOW())
		ON CONFLICT (anchor_id) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, insert, anchorID); err != nil {
		r.logger.Error("Failed to ensure anchor metrics row", "anchor_id", anchorID, "error", err)
		return nil, fmt.Errorf("failed to ensure anchor metrics row: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM anchor_metrics WHERE anchor_id = $1 FOR UPDATE`, anchorColumns)

	m, err := r.scanAnchorRow(r.querier.QueryRow(ctx, query, anchorID))
	if err != nil {
		r.logger.Error("Failed to lock anchor metrics", "anchor_id", anchorID, "error", err)
		return nil, fmt.Errorf("failed to lock anchor metrics: %w", err)
	}

	return m, nil
}

// SaveAnchor writes the full aggregate row back
func (r *MetricsRepository) SaveAnchor(ctx context.Context, m *metrics.AnchorMetrics) error {
	query := `
		UPDATE anchor_metrics
		SET registration = $1, total_transactions = $2, successful_transactions = $3,
			failed_transactions = $4, avg_settlement_ms = $5, total_volume = $6,
			total_volume_usd = $7, reliability_score = $8, status = $9,
			score_version = $10, last_activity_at = $11, updated_at = $12
		WHERE anchor_id = $13
	`

	result, err := r.querier.Exec(ctx, query,
		m.Registration, m.TotalTxns, m.SuccessfulTxns,
		m.FailedTxns, m.AvgSettlementMs, m.TotalVolume,
		m.TotalVolumeUSD, m.ReliabilityScore, m.Status,
		m.ScoreVersion, m.LastActivityAt, time.Now(),
		m.AnchorID,
	)
	if err != nil {
		r.logger.Error("Failed to save anchor metrics", "anchor_id", m.AnchorID, "error", err)
		return fmt.Errorf("failed to save anchor metrics: %w", err)
	}

	if result.RowsAffected() == 0 {
		return metrics.ErrAnchorNotFound{AnchorID: m.AnchorID}
	}

	return nil
}

// PromoteAnchor flips a provisional row to registered without touching counters
func (r *MetricsRepository) PromoteAnchor(ctx context.Context, anchorID string) error {
	query := `
		UPDATE anchor_metrics
		SET registration = 'registered', updated_at = NOW()
		WHERE anchor_id = $1 AND registration = 'provisional'
	`

	if _, err := r.querier.Exec(ctx, query, anchorID); err != nil {
		r.logger.Error("Failed to promote anchor", "anchor_id", anchorID, "error", err)
		return fmt.Errorf("failed to promote anchor: %w", err)
	}

	return nil
}

// ListAnchors returns all current anchor aggregates ordered by anchor id
func (r *MetricsRepository) ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error) {
	query := fmt.Sprintf(`SELECT %s FROM anchor_metrics ORDER BY anchor_id ASC`, anchorColumns)

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list anchor metrics", "error", err)
		return nil, fmt.Errorf("failed to list anchor metrics: %w", err)
	}
	defer rows.Close()

	var anchors []*metrics.AnchorMetrics
	for rows.Next() {
		m, err := r.scanAnchorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anchor metrics: %w", err)
		}
		anchors = append(anchors, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over anchor metrics: %w", err)
	}

	return anchors, nil
}

// LockCorridorForUpdate locks (or creates empty) one corridor day bucket
func (r *MetricsRepository) LockCorridorForUpdate(ctx context.Context, corridorKey, date string) (*metrics.CorridorMetrics, error) {
	insert := `
		INSERT INTO corridor_metrics (corridor_key, date, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (corridor_key, date) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, insert, corridorKey, date); err != nil {
		r.logger.Error("Failed to ensure corridor metrics row", "corridor_key", corridorKey, "date", date, "error", err)
		return nil, fmt.Errorf("failed to ensure corridor metrics row: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM corridor_metrics WHERE corridor_key = $1 AND date = $2 FOR UPDATE`, corridorColumns)

	var c metrics.CorridorMetrics
	err := r.querier.QueryRow(ctx, query, corridorKey, date).Scan(
		&c.CorridorKey, &c.Date, &c.AnchorID, &c.TotalPayments, &c.SuccessfulPayments,
		&c.FailedPayments, &c.Volume, &c.VolumeUSD, &c.SuccessRateBp, &c.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to lock corridor metrics", "corridor_key", corridorKey, "date", date, "error", err)
		return nil, fmt.Errorf("failed to lock corridor metrics: %w", err)
	}

	return &c, nil
}

// SaveCorridor writes the bucket row back
func (r *MetricsRepository) SaveCorridor(ctx context.Context, c *metrics.CorridorMetrics) error {
	query := `
		UPDATE corridor_metrics
		SET anchor_id = $1, total_payments = $2, successful_payments = $3, failed_payments = $4,
			volume = $5, volume_usd = $6, success_rate_bp = $7, updated_at = $8
		WHERE corridor_key = $9 AND date = $10
	`

	result, err := r.querier.Exec(ctx, query,
		c.AnchorID, c.TotalPayments, c.SuccessfulPayments, c.FailedPayments,
		c.Volume, c.VolumeUSD, c.SuccessRateBp, time.Now(),
		c.CorridorKey, c.Date,
	)
	if err != nil {
		r.logger.Error("Failed to save corridor metrics", "corridor_key", c.CorridorKey, "date", c.Date, "error", err)
		return fmt.Errorf("failed to save corridor metrics: %w", err)
	}

	if result.RowsAffected() == 0 {
		return metrics.ErrCorridorNotFound{CorridorKey: c.CorridorKey, Date: c.Date}
	}

	return nil
}

// ListCorridors returns bucket rows, optionally filtered to one UTC date
func (r *MetricsRepository) ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error) {
	query := fmt.Sprintf(`SELECT %s FROM corridor_metrics ORDER BY corridor_key ASC, date ASC`, corridorColumns)
	args := []interface{}{}
	if date != "" {
		query = fmt.Sprintf(`SELECT %s FROM corridor_metrics WHERE date = $1 ORDER BY corridor_key ASC, date ASC`, corridorColumns)
		args = append(args, date)
	}

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list corridor metrics", "error", err)
		return nil, fmt.Errorf("failed to list corridor metrics: %w", err)
	}
	defer rows.Close()

	var corridors []*metrics.CorridorMetrics
	for rows.Next() {
		var c metrics.CorridorMetrics
		err := rows.Scan(
			&c.CorridorKey, &c.Date, &c.AnchorID, &c.TotalPayments, &c.SuccessfulPayments,
			&c.FailedPayments, &c.Volume, &c.VolumeUSD, &c.SuccessRateBp, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan corridor metrics: %w", err)
		}
		corridors = append(corridors, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over corridor metrics: %w", err)
	}

	return corridors, nil
}

// SumCorridorsForAnchor sums corridor buckets attributed to an anchor over a date range
func (r *MetricsRepository) SumCorridorsForAnchor(ctx context.Context, anchorID string, from, to string) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(total_payments), 0), COALESCE(SUM(successful_payments), 0)
		FROM corridor_metrics
		WHERE anchor_id = $1 AND date >= $2 AND date <= $3
	`

	var total, successful int64
	if err := r.querier.QueryRow(ctx, query, anchorID, from, to).Scan(&total, &successful); err != nil {
		r.logger.Error("Failed to sum corridor metrics for anchor", "anchor_id", anchorID, "error", err)
		return 0, 0, fmt.Errorf("failed to sum corridor metrics for anchor: %w", err)
	}

	return total, successful, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *MetricsRepository) scanAnchorRow(row rowScanner) (*metrics.AnchorMetrics, error) {
	var m metrics.AnchorMetrics
	err := row.Scan(
		&m.AnchorID, &m.Registration, &m.TotalTxns, &m.SuccessfulTxns,
		&m.FailedTxns, &m.AvgSettlementMs, &m.TotalVolume, &m.TotalVolumeUSD,
		&m.ReliabilityScore, &m.Status, &m.ScoreVersion, &m.LastActivityAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
