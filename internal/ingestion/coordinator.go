package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/cursor"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// Coordinator runs one worker goroutine per ingestion task. A worker
// exclusively owns its task cursor: it fetches the page after the stored
// position, normalizes it, and hands it to the committer. A drained feed
// backs the worker off to the poll interval; a full page loops immediately.
type Coordinator struct {
	cfg        *config.IngestionConfig
	source     LedgerSource
	normalizer *Normalizer
	committer  BatchCommitter
	cursorRepo cursor.Repository
	logger     *slog.Logger
}

func NewCoordinator(
	cfg *config.IngestionConfig,
	source LedgerSource,
	normalizer *Normalizer,
	committer BatchCommitter,
	cursorRepo cursor.Repository,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		source:     source,
		normalizer: normalizer,
		committer:  committer,
		cursorRepo: cursorRepo,
		logger:     logger,
	}
}

// Start launches the task workers. It returns once cursor rows exist for all
// tasks; workers run until the context is canceled and are waited on through
// wg.
func (c *Coordinator) Start(ctx context.Context, wg *sync.WaitGroup) error {
	for _, task := range shared.AllTasks() {
		if err := c.cursorRepo.Ensure(ctx, task); err != nil {
			return err
		}
	}

	for _, task := range shared.AllTasks() {
		wg.Add(1)
		go func(task shared.TaskName) {
			defer wg.Done()
			c.runWorker(ctx, task)
		}(task)
	}
	return nil
}

func (c *Coordinator) runWorker(ctx context.Context, task shared.TaskName) {
	logger := c.logger.With("task", string(task))
	logger.Info("Ingestion worker started",
		"batch_size", c.cfg.BatchSize,
		"poll_interval", c.cfg.PollInterval.String(),
	)

	for {
		fetched, err := c.runOnce(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Ingestion worker stopping due to context cancellation")
				return
			}
			logger.Error("Ingestion batch failed", "error", err)
		}

		// A full page means the feed likely has more; drain it before
		// falling back to the poll interval.
		if err == nil && fetched >= c.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("Ingestion worker stopping due to context cancellation")
			return
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// runOnce processes a single batch and returns the raw record count fetched.
func (c *Coordinator) runOnce(ctx context.Context, task shared.TaskName) (int, error) {
	cur, err := c.cursorRepo.Get(ctx, task)
	if err != nil {
		return 0, err
	}

	page, err := c.source.FetchPage(ctx, task, cur.LastCursor, c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if page.NextCursor == "" || (len(page.Records) == 0 && page.NextCursor == cur.LastCursor) {
		return 0, nil
	}

	batch := c.normalizer.NormalizeBatch(task, page.Records)
	if err := c.committer.CommitBatch(ctx, batch, page.NextCursor); err != nil {
		return 0, err
	}
	return len(page.Records), nil
}
