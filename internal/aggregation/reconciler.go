package aggregation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/domain/record"
)

// Wide date range covering every corridor bucket.
const (
	reconcileFromDate = "0001-01-01"
	reconcileToDate   = "9999-12-31"
)

// Reconciler is the scheduled consistency sweep. It compares each anchor
// aggregate against the raw payment history and against the sum of its
// corridor buckets, and recomputes any anchor that diverged.
type Reconciler struct {
	engine      *Engine
	metricsRepo metrics.Repository
	recordRepo  record.Repository
	logger      *slog.Logger
}

func NewReconciler(
	engine *Engine,
	metricsRepo metrics.Repository,
	recordRepo record.Repository,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		engine:      engine,
		metricsRepo: metricsRepo,
		recordRepo:  recordRepo,
		logger:      logger,
	}
}

// Run executes one sweep. It keeps going past individual divergences and
// returns the number of anchors it had to recompute.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	anchors, err := r.metricsRepo.ListAnchors(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list anchors for reconciliation: %w", err)
	}

	recomputed := 0
	for _, m := range anchors {
		diverged, err := r.checkAnchor(ctx, m)
		if err != nil {
			r.logger.Error("Reconciliation check failed", "anchor_id", m.AnchorID, "error", err)
			continue
		}
		if !diverged {
			continue
		}

		recomputed++
		if err := r.engine.RecomputeAnchor(ctx, m.AnchorID); err != nil {
			r.logger.Error("Reconciliation recompute failed", "anchor_id", m.AnchorID, "error", err)
		}
	}

	r.logger.Info("Reconciliation sweep finished", "anchors_checked", len(anchors), "anchors_recomputed", recomputed)
	return recomputed, nil
}

func (r *Reconciler) checkAnchor(ctx context.Context, m *metrics.AnchorMetrics) (bool, error) {
	rawCount, err := r.recordRepo.CountPaymentsForAnchor(ctx, m.AnchorID)
	if err != nil {
		return false, fmt.Errorf("failed to count raw payments: %w", err)
	}
	if rawCount != m.TotalTxns {
		r.logger.Warn("Anchor aggregate diverged from raw history",
			"anchor_id", m.AnchorID,
			"aggregate_total", m.TotalTxns,
			"raw_total", rawCount,
		)
		return true, nil
	}

	corridorTotal, corridorSuccessful, err := r.metricsRepo.SumCorridorsForAnchor(ctx, m.AnchorID, reconcileFromDate, reconcileToDate)
	if err != nil {
		return false, fmt.Errorf("failed to sum corridor buckets: %w", err)
	}
	if corridorTotal != m.TotalTxns || corridorSuccessful != m.SuccessfulTxns {
		r.logger.Warn("Anchor aggregate diverged from corridor buckets",
			"anchor_id", m.AnchorID,
			"aggregate_total", m.TotalTxns,
			"aggregate_successful", m.SuccessfulTxns,
			"corridor_total", corridorTotal,
			"corridor_successful", corridorSuccessful,
		)
		return true, nil
	}

	return false, nil
}
