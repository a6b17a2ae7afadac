// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all store operations while maintaining transaction
// safety: every repository can be rebound to a pgx.Tx with WithTx so that
// records, cursor advances, aggregates, and audit rows commit atomically.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/cursor"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
)

// CursorRepository implements the cursor.Repository interface for PostgreSQL
type CursorRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewCursorRepository creates a new PostgreSQL cursor repository
func NewCursorRepository(logger *slog.Logger, db *persistence.PostgresDB) cursor.Repository {
	return &CursorRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so the cursor advance commits
// atomically with the records it unlocks.
func (r *CursorRepository) WithTx(tx pgx.Tx) cursor.Repository {
	return &CursorRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Get returns the cursor row for a task
func (r *CursorRepository) Get(ctx context.Context, task shared.TaskName) (*cursor.Cursor, error) {
	query := `
		SELECT task_name, last_cursor, updated_at
		FROM ingestion_cursors
		WHERE task_name = $1
	`

	var c cursor.Cursor
	err := r.querier.QueryRow(ctx, query, task).Scan(
		&c.TaskName,
		&c.LastCursor,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cursor.ErrCursorNotFound{Task: task}
		}
		r.logger.Error("Failed to get ingestion cursor", "task", string(task), "error", err)
		return nil, fmt.Errorf("failed to get ingestion cursor: %w", err)
	}

	return &c, nil
}

// Ensure creates the cursor row at the start of the feed if it does not exist
func (r *CursorRepository) Ensure(ctx context.Context, task shared.TaskName) error {
	query := `
		INSERT INTO ingestion_cursors (task_name, last_cursor, updated_at)
		VALUES ($1, '', NOW())
		ON CONFLICT (task_name) DO NOTHING
	`

	_, err := r.querier.Exec(ctx, query, task)
	if err != nil {
		r.logger.Error("Failed to ensure ingestion cursor", "task", string(task), "error", err)
		return fmt.Errorf("failed to ensure ingestion cursor: %w", err)
	}

	return nil
}

// Advance moves the cursor forward. Paging tokens are numeric strings, so the
// WHERE clause compares them as numerics to enforce monotonicity: an equal or
// older value leaves the row untouched.
func (r *CursorRepository) Advance(ctx context.Context, task shared.TaskName, newCursor string) error {
	query := `
		UPDATE ingestion_cursors
		SET last_cursor = $1, updated_at = NOW()
		WHERE task_name = $2 AND (last_cursor = '' OR last_cursor::numeric < $1::numeric)
	`

	result, err := r.querier.Exec(ctx, query, newCursor, task)
	if err != nil {
		r.logger.Error("Failed to advance ingestion cursor", "task", string(task), "error", err)
		return fmt.Errorf("failed to advance ingestion cursor: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is missing or the new value does not move forward.
		// A no-op advance is not an error: replaying an old batch must leave
		// the cursor where it is.
		r.logger.Debug("Cursor advance was a no-op", "task", string(task), "new_cursor", newCursor)
	}

	return nil
}
