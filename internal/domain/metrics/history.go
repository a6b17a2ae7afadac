package metrics

import "time"

// AnchorHistoryPoint is an immutable point-in-time copy of an anchor's
// aggregate, appended after every aggregation pass for time-series rendering.
type AnchorHistoryPoint struct {
	AnchorID         string    `json:"anchor_id" bson:"anchor_id"`
	Timestamp        time.Time `json:"timestamp" bson:"timestamp"`
	TotalTxns        int64     `json:"total_transactions" bson:"total_transactions"`
	SuccessfulTxns   int64     `json:"successful_transactions" bson:"successful_transactions"`
	FailedTxns       int64     `json:"failed_transactions" bson:"failed_transactions"`
	AvgSettlementMs  int64     `json:"avg_settlement_ms" bson:"avg_settlement_ms"`
	TotalVolumeUSD   int64     `json:"total_volume_usd" bson:"total_volume_usd"`
	ReliabilityScore int       `json:"reliability_score" bson:"reliability_score"`
	Status           Status    `json:"status" bson:"status"`
}

// HistoryPointFrom copies the current aggregate into an immutable point.
func HistoryPointFrom(m *AnchorMetrics, at time.Time) *AnchorHistoryPoint {
	return &AnchorHistoryPoint{
		AnchorID:         m.AnchorID,
		Timestamp:        at,
		TotalTxns:        m.TotalTxns,
		SuccessfulTxns:   m.SuccessfulTxns,
		FailedTxns:       m.FailedTxns,
		AvgSettlementMs:  m.AvgSettlementMs,
		TotalVolumeUSD:   m.TotalVolumeUSD,
		ReliabilityScore: m.ReliabilityScore,
		Status:           m.Status,
	}
}

// TrustlineSnapshot is an immutable per-asset trustline count observation.
type TrustlineSnapshot struct {
	AssetCode      string    `json:"asset_code" bson:"asset_code"`
	AssetIssuer    string    `json:"asset_issuer" bson:"asset_issuer"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	TrustlineCount int64     `json:"trustline_count" bson:"trustline_count"`
}
