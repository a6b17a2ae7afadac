// Package aggregation folds committed ledger records into the rolling anchor
// and corridor aggregates, recomputes reliability scores, and appends history
// points. It is driven by outbox batch events and by a scheduled
// reconciliation sweep.
package aggregation

import (
	"time"

	"github.com/stellar-anchor-watch/internal/domain/metrics"
)

// ScoreVersion identifies the reliability formula below. It is stored with
// every score so that snapshots taken under different formulas are never
// compared as equals.
const ScoreVersion = 1

const (
	latencyFloorMs      = 5000
	latencyPenaltyCap   = 20
	stalenessGraceHours = 24
	stalenessStepHours  = 24
	stalenessStep       = 5
	stalenessPenaltyCap = 30
)

// ReliabilityScore computes formula version 1. All arithmetic is integer so
// the same aggregate state always yields the same score, on any platform.
//
//	base      = successful*100/total (0 when total is 0)
//	latency   = min(20, max(0, (avg_settlement_ms-5000)/1000))
//	staleness = min(30, max(0, (hours_idle-24)/24*5))
//	score     = clamp(0, 100, base-latency-staleness)
func ReliabilityScore(m *metrics.AnchorMetrics, now time.Time) int {
	base := int64(0)
	if m.TotalTxns > 0 {
		base = m.SuccessfulTxns * 100 / m.TotalTxns
	}

	latencyPenalty := (m.AvgSettlementMs - latencyFloorMs) / 1000
	if latencyPenalty < 0 {
		latencyPenalty = 0
	}
	if latencyPenalty > latencyPenaltyCap {
		latencyPenalty = latencyPenaltyCap
	}

	stalenessPenalty := int64(stalenessPenaltyCap)
	if !m.LastActivityAt.IsZero() {
		hoursIdle := int64(now.UTC().Sub(m.LastActivityAt.UTC()) / time.Hour)
		stalenessPenalty = (hoursIdle - stalenessGraceHours) / stalenessStepHours * stalenessStep
		if stalenessPenalty < 0 {
			stalenessPenalty = 0
		}
		if stalenessPenalty > stalenessPenaltyCap {
			stalenessPenalty = stalenessPenaltyCap
		}
	}

	score := base - latencyPenalty - stalenessPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}
