package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/cursor"
	"github.com/stellar-anchor-watch/internal/domain/outbox"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// BatchCommitter atomically persists a normalized batch: record upserts, the
// cursor advance, and the outbox batch event commit or roll back together.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, batch *NormalizedBatch, nextCursor string) error
}

// TxBeginner abstracts the pgx pool for transaction control.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgBatchCommitter implements BatchCommitter on PostgreSQL.
type PgBatchCommitter struct {
	db         TxBeginner
	recordRepo record.Repository
	cursorRepo cursor.Repository
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

func NewPgBatchCommitter(
	db TxBeginner,
	recordRepo record.Repository,
	cursorRepo cursor.Repository,
	outboxRepo outbox.Repository,
	logger *slog.Logger,
) *PgBatchCommitter {
	return &PgBatchCommitter{
		db:         db,
		recordRepo: recordRepo,
		cursorRepo: cursorRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// CommitBatch runs the single transaction that makes a batch durable. The
// cursor advances even when every record was already stored; the outbox event
// is written only when at least one record is new, so re-ingesting an old
// page never re-triggers the downstream consumers.
func (c *PgBatchCommitter) CommitBatch(ctx context.Context, batch *NormalizedBatch, nextCursor string) (err error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction for task %s: %w", batch.Task, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				c.logger.Error("Failed to rollback batch transaction", "task", string(batch.Task), "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	recordRepoTx := c.recordRepo.WithTx(tx)

	inserted := 0
	switch batch.Task {
	case shared.TaskPayments:
		inserted, err = recordRepoTx.UpsertPayments(ctx, batch.Payments)
	case shared.TaskTrustlines:
		inserted, err = recordRepoTx.UpsertTrustlineEvents(ctx, batch.Trustlines)
	case shared.TaskAccountMerges:
		inserted, err = recordRepoTx.UpsertAccountMerges(ctx, batch.Merges)
	case shared.TaskFeeBumps:
		inserted, err = recordRepoTx.UpsertFeeBumps(ctx, batch.FeeBumps)
	default:
		err = fmt.Errorf("unknown ingestion task: %s", batch.Task)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s batch: %w", batch.Task, err)
	}

	if err = c.cursorRepo.WithTx(tx).Advance(ctx, batch.Task, nextCursor); err != nil {
		return fmt.Errorf("failed to advance %s cursor to %q: %w", batch.Task, nextCursor, err)
	}

	if inserted > 0 {
		event := &shared.BatchEvent{
			Task:          batch.Task,
			Cursor:        nextCursor,
			RecordCount:   inserted,
			SkippedCount:  batch.Skipped,
			AnchorIDs:     batch.AnchorIDs,
			CorridorDays:  batch.CorridorDays,
			AssetKeys:     batch.AssetKeys,
			CorrelationID: uuid.NewString(),
			CommittedAt:   time.Now().UTC(),
		}
		var msg *outbox.Message
		msg, err = outbox.NewMessage(event)
		if err != nil {
			return fmt.Errorf("failed to build outbox message for %s batch: %w", batch.Task, err)
		}
		if err = c.outboxRepo.WithTx(tx).Create(ctx, msg); err != nil {
			return fmt.Errorf("failed to write outbox message for %s batch: %w", batch.Task, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", batch.Task, err)
	}

	c.logger.Info("Committed ingestion batch",
		"task", string(batch.Task),
		"cursor", nextCursor,
		"inserted", inserted,
		"skipped", batch.Skipped,
	)
	return nil
}
