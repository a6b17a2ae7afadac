package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// TxBeginner abstracts the pgx pool for transaction control.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine consumes batch events and recomputes the aggregates they touch.
// Each affected entity is recomputed from raw history inside its own
// row-locked transaction, which makes redelivered events harmless: the same
// committed records always produce the same aggregate row.
type Engine struct {
	db          TxBeginner
	metricsRepo metrics.Repository
	recordRepo  record.Repository
	historyRepo metrics.HistoryRepository
	pool        *ants.Pool
	thresholds  metrics.Thresholds
	logger      *slog.Logger
	now         func() time.Time
}

func NewEngine(
	cfg *config.AggregationConfig,
	poolCfg *config.WorkerPoolConfig,
	db TxBeginner,
	metricsRepo metrics.Repository,
	recordRepo record.Repository,
	historyRepo metrics.HistoryRepository,
	logger *slog.Logger,
) (*Engine, error) {
	pool, err := ants.NewPool(poolCfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregation worker pool: %w", err)
	}

	return &Engine{
		db:          db,
		metricsRepo: metricsRepo,
		recordRepo:  recordRepo,
		historyRepo: historyRepo,
		pool:        pool,
		thresholds: metrics.Thresholds{
			Green:  cfg.GreenThreshold,
			Yellow: cfg.YellowThreshold,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Release frees the worker pool.
func (e *Engine) Release() {
	e.pool.Release()
}

// HandleBatchEvent is the Kafka message handler. A non-nil return leaves the
// offset uncommitted so the event is redelivered.
func (e *Engine) HandleBatchEvent(ctx context.Context, key []byte, value []byte) error {
	var event shared.BatchEvent
	if err := json.Unmarshal(value, &event); err != nil {
		e.logger.Error("Failed to decode batch event, dropping it", "key", string(key), "error", err)
		return nil // Redelivery cannot fix a malformed event
	}

	logger := e.logger
	if event.CorrelationID != "" {
		logger = e.logger.With("correlation_id", event.CorrelationID)
	}
	logger.Info("Aggregating batch event",
		"task", string(event.Task),
		"cursor", event.Cursor,
		"record_count", event.RecordCount,
	)

	switch event.Task {
	case shared.TaskPayments:
		return e.aggregatePayments(ctx, &event, logger)
	case shared.TaskTrustlines:
		return e.aggregateTrustlines(ctx, &event, logger)
	case shared.TaskAccountMerges, shared.TaskFeeBumps:
		// No rolling aggregates are kept for these records yet.
		logger.Debug("No aggregation defined for task", "task", string(event.Task))
		return nil
	default:
		logger.Error("Batch event for unknown task, dropping it", "task", string(event.Task))
		return nil
	}
}

// aggregatePayments fans the affected anchors and corridor buckets out to the
// worker pool. Same-entity updates serialize on the row lock; disjoint
// entities recompute in parallel.
func (e *Engine) aggregatePayments(ctx context.Context, event *shared.BatchEvent, logger *slog.Logger) error {
	jobs := make([]func() error, 0, len(event.AnchorIDs)+len(event.CorridorDays))
	for _, anchorID := range event.AnchorIDs {
		anchorID := anchorID
		jobs = append(jobs, func() error {
			return e.RecomputeAnchor(ctx, anchorID)
		})
	}
	for _, cd := range event.CorridorDays {
		cd := cd
		jobs = append(jobs, func() error {
			return e.RecomputeCorridor(ctx, cd.CorridorKey, cd.Date)
		})
	}

	if err := e.runConcurrently(jobs); err != nil {
		logger.Error("Aggregation of payment batch failed", "error", err)
		return err
	}
	return nil
}

// aggregateTrustlines promotes anchors sighted as issuers and appends one
// trustline count observation per touched asset.
func (e *Engine) aggregateTrustlines(ctx context.Context, event *shared.BatchEvent, logger *slog.Logger) error {
	jobs := make([]func() error, 0, len(event.AnchorIDs)+len(event.AssetKeys))
	for _, anchorID := range event.AnchorIDs {
		anchorID := anchorID
		jobs = append(jobs, func() error {
			return e.promoteAnchor(ctx, anchorID)
		})
	}
	for _, key := range event.AssetKeys {
		key := key
		jobs = append(jobs, func() error {
			return e.snapshotTrustlines(ctx, key)
		})
	}

	if err := e.runConcurrently(jobs); err != nil {
		logger.Error("Aggregation of trustline batch failed", "error", err)
		return err
	}
	return nil
}

func (e *Engine) runConcurrently(jobs []func() error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, job := range jobs {
		job := job
		wg.Add(1)
		submitErr := e.pool.Submit(func() {
			defer wg.Done()
			if err := job(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, submitErr)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RecomputeAnchor rebuilds one anchor aggregate from the raw payment history
// under a row lock, rescores it, and appends a history point.
func (e *Engine) RecomputeAnchor(ctx context.Context, anchorID string) (err error) {
	now := e.now().UTC()

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin anchor aggregation transaction for %s: %w", anchorID, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				e.logger.Error("Failed to rollback anchor aggregation transaction", "anchor_id", anchorID, "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	m, err := e.metricsRepo.WithTx(tx).LockAnchorForUpdate(ctx, anchorID)
	if err != nil {
		return fmt.Errorf("failed to lock anchor %s: %w", anchorID, err)
	}

	payments, err := e.recordRepo.WithTx(tx).PaymentsForAnchor(ctx, anchorID)
	if err != nil {
		return fmt.Errorf("failed to load payments for anchor %s: %w", anchorID, err)
	}

	m.TotalTxns = 0
	m.SuccessfulTxns = 0
	m.FailedTxns = 0
	m.AvgSettlementMs = 0
	m.TotalVolume = 0
	m.TotalVolumeUSD = 0
	m.LastActivityAt = time.Time{}
	for _, p := range payments {
		m.ApplyPayment(p.Successful, p.Amount, p.AmountUSD, p.SettlementMs, p.ClosedAt)
	}
	m.SetScore(ReliabilityScore(m, now), ScoreVersion, e.thresholds)
	m.UpdatedAt = now

	if err = e.metricsRepo.WithTx(tx).SaveAnchor(ctx, m); err != nil {
		return fmt.Errorf("failed to save anchor %s: %w", anchorID, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit anchor aggregation for %s: %w", anchorID, err)
	}

	if err := e.historyRepo.AppendAnchorPoint(ctx, metrics.HistoryPointFrom(m, now)); err != nil {
		return fmt.Errorf("failed to append history point for anchor %s: %w", anchorID, err)
	}

	e.logger.Debug("Anchor aggregate recomputed",
		"anchor_id", anchorID,
		"total", m.TotalTxns,
		"score", m.ReliabilityScore,
		"status", string(m.Status),
	)
	return nil
}

// RecomputeCorridor rebuilds one corridor day bucket from raw history.
func (e *Engine) RecomputeCorridor(ctx context.Context, corridorKey, date string) (err error) {
	now := e.now().UTC()

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin corridor aggregation transaction for %s@%s: %w", corridorKey, date, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				e.logger.Error("Failed to rollback corridor aggregation transaction", "corridor_key", corridorKey, "date", date, "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	c, err := e.metricsRepo.WithTx(tx).LockCorridorForUpdate(ctx, corridorKey, date)
	if err != nil {
		return fmt.Errorf("failed to lock corridor %s@%s: %w", corridorKey, date, err)
	}

	payments, err := e.recordRepo.WithTx(tx).PaymentsForCorridorDay(ctx, corridorKey, date)
	if err != nil {
		return fmt.Errorf("failed to load payments for corridor %s@%s: %w", corridorKey, date, err)
	}

	c.TotalPayments = 0
	c.SuccessfulPayments = 0
	c.FailedPayments = 0
	c.Volume = 0
	c.VolumeUSD = 0
	c.SuccessRateBp = 0
	for _, p := range payments {
		c.ApplyPayment(p.Successful, p.Amount, p.AmountUSD)
		if c.AnchorID == "" && p.AnchorID != "" {
			c.AnchorID = p.AnchorID
		}
	}
	c.UpdatedAt = now

	if err = e.metricsRepo.WithTx(tx).SaveCorridor(ctx, c); err != nil {
		return fmt.Errorf("failed to save corridor %s@%s: %w", corridorKey, date, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit corridor aggregation for %s@%s: %w", corridorKey, date, err)
	}

	e.logger.Debug("Corridor bucket recomputed",
		"corridor_key", corridorKey,
		"date", date,
		"total", c.TotalPayments,
		"success_rate_bp", c.SuccessRateBp,
	)
	return nil
}

// promoteAnchor flips a provisional anchor to registered once a trustline
// event names it as an issuer. Counters survive the promotion.
func (e *Engine) promoteAnchor(ctx context.Context, anchorID string) (err error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin promotion transaction for %s: %w", anchorID, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				e.logger.Error("Failed to rollback promotion transaction", "anchor_id", anchorID, "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	metricsTx := e.metricsRepo.WithTx(tx)
	if _, err = metricsTx.LockAnchorForUpdate(ctx, anchorID); err != nil {
		return fmt.Errorf("failed to lock anchor %s for promotion: %w", anchorID, err)
	}
	if err = metricsTx.PromoteAnchor(ctx, anchorID); err != nil {
		return fmt.Errorf("failed to promote anchor %s: %w", anchorID, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit promotion for %s: %w", anchorID, err)
	}
	return nil
}

// snapshotTrustlines appends the current live trustline count for one asset.
func (e *Engine) snapshotTrustlines(ctx context.Context, key shared.AssetKey) error {
	count, err := e.recordRepo.TrustlineCountForAsset(ctx, key.Code, key.Issuer)
	if err != nil {
		return fmt.Errorf("failed to count trustlines for %s: %w", key.String(), err)
	}
	snap := &metrics.TrustlineSnapshot{
		AssetCode:      key.Code,
		AssetIssuer:    key.Issuer,
		Timestamp:      e.now().UTC(),
		TrustlineCount: count,
	}
	if err := e.historyRepo.AppendTrustlineSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to append trustline snapshot for %s: %w", key.String(), err)
	}
	return nil
}
