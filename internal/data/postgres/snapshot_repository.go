package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
)

// SnapshotRepository implements the snapshot.Repository interface for PostgreSQL
type SnapshotRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSnapshotRepository creates a new PostgreSQL snapshot submission repository
func NewSnapshotRepository(logger *slog.Logger, db *persistence.PostgresDB) snapshot.Repository {
	return &SnapshotRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Reserve writes a pending row for an epoch. The primary key rejects reuse.
func (r *SnapshotRepository) Reserve(ctx context.Context, sub *snapshot.Submission) error {
	query := `
		INSERT INTO snapshot_submissions (epoch, hash, format_version, state, chain_timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
	`

	_, err := r.querier.Exec(ctx, query,
		sub.Epoch, sub.Hash, sub.FormatVersion, snapshot.StatePending, time.Now(),
	)
	if err != nil {
		r.logger.Error("Failed to reserve snapshot epoch", "epoch", sub.Epoch, "error", err)
		return fmt.Errorf("failed to reserve snapshot epoch %d: %w", sub.Epoch, err)
	}

	return nil
}

// MarkSubmitted records on-chain acceptance of a reserved epoch
func (r *SnapshotRepository) MarkSubmitted(ctx context.Context, epoch uint64, chainTimestamp uint64) error {
	query := `
		UPDATE snapshot_submissions
		SET state = $1, chain_timestamp = $2, updated_at = $3
		WHERE epoch = $4
	`

	result, err := r.querier.Exec(ctx, query, snapshot.StateSubmitted, chainTimestamp, time.Now(), epoch)
	if err != nil {
		r.logger.Error("Failed to mark snapshot submitted", "epoch", epoch, "error", err)
		return fmt.Errorf("failed to mark snapshot submitted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no reserved snapshot for epoch %d", epoch)
	}

	return nil
}

// MarkAbandoned records that a reserved epoch was spent without a submission
func (r *SnapshotRepository) MarkAbandoned(ctx context.Context, epoch uint64) error {
	query := `
		UPDATE snapshot_submissions
		SET state = $1, updated_at = $2
		WHERE epoch = $3 AND state = $4
	`

	result, err := r.querier.Exec(ctx, query, snapshot.StateAbandoned, time.Now(), epoch, snapshot.StatePending)
	if err != nil {
		r.logger.Error("Failed to mark snapshot abandoned", "epoch", epoch, "error", err)
		return fmt.Errorf("failed to mark snapshot abandoned: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no pending snapshot for epoch %d", epoch)
	}

	return nil
}

// MaxEpoch returns the highest epoch ever reserved, 0 when none exist
func (r *SnapshotRepository) MaxEpoch(ctx context.Context) (uint64, error) {
	query := `SELECT COALESCE(MAX(epoch), 0) FROM snapshot_submissions`

	var epoch uint64
	if err := r.querier.QueryRow(ctx, query).Scan(&epoch); err != nil {
		r.logger.Error("Failed to get max snapshot epoch", "error", err)
		return 0, fmt.Errorf("failed to get max snapshot epoch: %w", err)
	}

	return epoch, nil
}

// Latest returns the most recent submitted record
func (r *SnapshotRepository) Latest(ctx context.Context) (*snapshot.Submission, error) {
	query := `
		SELECT epoch, hash, format_version, state, chain_timestamp, created_at, updated_at
		FROM snapshot_submissions
		WHERE state = $1
		ORDER BY epoch DESC
		LIMIT 1
	`

	var sub snapshot.Submission
	err := r.querier.QueryRow(ctx, query, snapshot.StateSubmitted).Scan(
		&sub.Epoch, &sub.Hash, &sub.FormatVersion, &sub.State, &sub.ChainTimestamp, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, snapshot.ErrNoSubmissions{}
		}
		r.logger.Error("Failed to get latest snapshot submission", "error", err)
		return nil, fmt.Errorf("failed to get latest snapshot submission: %w", err)
	}

	return &sub, nil
}
