// Package metrics defines the rolling aggregate entities tracked for anchors
// and corridors, and the repository contract for their transactional updates.
package metrics

import (
	"time"
)

// Status is the health classification derived from the reliability score.
// It is always a pure function of the score; it is never set independently.
type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

// Registration tags an anchor row as a real registered gateway or a
// provisional placeholder created when activity referenced an anchor before
// its registration was seen.
type Registration string

const (
	RegistrationRegistered  Registration = "registered"
	RegistrationProvisional Registration = "provisional"
)

// Thresholds holds the configurable status cut-offs.
type Thresholds struct {
	Green  int // score at or above → green
	Yellow int // score at or above → yellow; below → red
}

// StatusForScore maps a reliability score to a status.
func StatusForScore(score int, th Thresholds) Status {
	switch {
	case score >= th.Green:
		return StatusGreen
	case score >= th.Yellow:
		return StatusYellow
	default:
		return StatusRed
	}
}

// AnchorMetrics is the current rolling aggregate for one anchor. Counts are
// monotonically non-decreasing except on explicit recomputation from raw
// history.
type AnchorMetrics struct {
	AnchorID         string       `json:"anchor_id"`
	Registration     Registration `json:"registration"`
	TotalTxns        int64        `json:"total_transactions"`
	SuccessfulTxns   int64        `json:"successful_transactions"`
	FailedTxns       int64        `json:"failed_transactions"`
	AvgSettlementMs  int64        `json:"avg_settlement_ms"`
	TotalVolume      int64        `json:"total_volume"`
	TotalVolumeUSD   int64        `json:"total_volume_usd"`
	ReliabilityScore int          `json:"reliability_score"`
	Status           Status       `json:"status"`
	ScoreVersion     int          `json:"score_version"`
	LastActivityAt   time.Time    `json:"last_activity_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewProvisionalAnchor returns the placeholder row created when activity
// references an anchor that has not been registered yet.
func NewProvisionalAnchor(anchorID string, now time.Time) *AnchorMetrics {
	return &AnchorMetrics{
		AnchorID:     anchorID,
		Registration: RegistrationProvisional,
		Status:       StatusRed,
		UpdatedAt:    now,
	}
}

// ApplyPayment folds one newly attributed payment into the aggregate. The
// running settlement average is maintained without floating point so repeated
// runs over the same inputs stay byte-identical.
func (m *AnchorMetrics) ApplyPayment(successful bool, amount, amountUSD, settlementMs int64, closedAt time.Time) {
	m.TotalTxns++
	if successful {
		m.SuccessfulTxns++
		m.TotalVolume += amount
		m.TotalVolumeUSD += amountUSD
	} else {
		m.FailedTxns++
	}
	// Incremental integer mean: new = old + (x - old) / n
	m.AvgSettlementMs += (settlementMs - m.AvgSettlementMs) / m.TotalTxns
	if closedAt.After(m.LastActivityAt) {
		m.LastActivityAt = closedAt
	}
}

// SetScore records a recomputed reliability score and rederives the status.
func (m *AnchorMetrics) SetScore(score, version int, th Thresholds) {
	m.ReliabilityScore = score
	m.ScoreVersion = version
	m.Status = StatusForScore(score, th)
}
