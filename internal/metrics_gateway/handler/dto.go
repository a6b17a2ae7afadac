package handler

import (
	"encoding/hex"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
)

// AnchorResponse represents an anchor aggregate in API responses
type AnchorResponse struct {
	AnchorID         string `json:"anchor_id"`
	Registration     string `json:"registration"`
	TotalTxns        int64  `json:"total_transactions"`
	SuccessfulTxns   int64  `json:"successful_transactions"`
	FailedTxns       int64  `json:"failed_transactions"`
	AvgSettlementMs  int64  `json:"avg_settlement_ms"`
	TotalVolume      int64  `json:"total_volume"`
	TotalVolumeUSD   int64  `json:"total_volume_usd"`
	ReliabilityScore int    `json:"reliability_score"`
	Status           string `json:"status"`
	LastActivityAt   string `json:"last_activity_at,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

// AnchorHistoryPointResponse represents one time-series point
type AnchorHistoryPointResponse struct {
	Timestamp        string `json:"timestamp"`
	TotalTxns        int64  `json:"total_transactions"`
	SuccessfulTxns   int64  `json:"successful_transactions"`
	FailedTxns       int64  `json:"failed_transactions"`
	AvgSettlementMs  int64  `json:"avg_settlement_ms"`
	TotalVolumeUSD   int64  `json:"total_volume_usd"`
	ReliabilityScore int    `json:"reliability_score"`
	Status           string `json:"status"`
}

// CorridorResponse represents one corridor day bucket in API responses
type CorridorResponse struct {
	CorridorKey        string `json:"corridor_key"`
	Date               string `json:"date"`
	AnchorID           string `json:"anchor_id,omitempty"`
	TotalPayments      int64  `json:"total_payments"`
	SuccessfulPayments int64  `json:"successful_payments"`
	FailedPayments     int64  `json:"failed_payments"`
	Volume             int64  `json:"volume"`
	VolumeUSD          int64  `json:"volume_usd"`
	SuccessRateBp      int    `json:"success_rate_bp"`
}

// AssetResponse represents a verified asset in API responses
type AssetResponse struct {
	AssetCode          string `json:"asset_code"`
	AssetIssuer        string `json:"asset_issuer"`
	VerificationStatus string `json:"verification_status"`
	ReputationScore    int    `json:"reputation_score"`
	TrustlineCount     int64  `json:"trustline_count"`
	UnresolvedReports  int    `json:"unresolved_reports"`
	FirstSeenAt        string `json:"first_seen_at"`
	UpdatedAt          string `json:"updated_at"`
}

// SnapshotResponse represents the latest anchored snapshot in API responses
type SnapshotResponse struct {
	Epoch          uint64 `json:"epoch"`
	Hash           string `json:"hash"` // hex encoded
	FormatVersion  int    `json:"format_version"`
	ChainTimestamp uint64 `json:"chain_timestamp"`
	SubmittedAt    string `json:"submitted_at"`
}

// HistoryQueryParams represents query parameters for history endpoints
type HistoryQueryParams struct {
	From  string `form:"from"`
	To    string `form:"to"`
	Limit int    `form:"limit,default=100" binding:"min=1,max=1000"`
}

func mapAnchorToResponse(m *metrics.AnchorMetrics) AnchorResponse {
	resp := AnchorResponse{
		AnchorID:         m.AnchorID,
		Registration:     string(m.Registration),
		TotalTxns:        m.TotalTxns,
		SuccessfulTxns:   m.SuccessfulTxns,
		FailedTxns:       m.FailedTxns,
		AvgSettlementMs:  m.AvgSettlementMs,
		TotalVolume:      m.TotalVolume,
		TotalVolumeUSD:   m.TotalVolumeUSD,
		ReliabilityScore: m.ReliabilityScore,
		Status:           string(m.Status),
		UpdatedAt:        m.UpdatedAt.Format(time.RFC3339),
	}
	if !m.LastActivityAt.IsZero() {
		resp.LastActivityAt = m.LastActivityAt.Format(time.RFC3339)
	}
	return resp
}

func mapHistoryPointToResponse(p *metrics.AnchorHistoryPoint) AnchorHistoryPointResponse {
	return AnchorHistoryPointResponse{
		Timestamp:        p.Timestamp.Format(time.RFC3339),
		TotalTxns:        p.TotalTxns,
		SuccessfulTxns:   p.SuccessfulTxns,
		FailedTxns:       p.FailedTxns,
		AvgSettlementMs:  p.AvgSettlementMs,
		TotalVolumeUSD:   p.TotalVolumeUSD,
		ReliabilityScore: p.ReliabilityScore,
		Status:           string(p.Status),
	}
}

func mapCorridorToResponse(c *metrics.CorridorMetrics) CorridorResponse {
	return CorridorResponse{
		CorridorKey:        c.CorridorKey,
		Date:               c.Date,
		AnchorID:           c.AnchorID,
		TotalPayments:      c.TotalPayments,
		SuccessfulPayments: c.SuccessfulPayments,
		FailedPayments:     c.FailedPayments,
		Volume:             c.Volume,
		VolumeUSD:          c.VolumeUSD,
		SuccessRateBp:      c.SuccessRateBp,
	}
}

func mapAssetToResponse(a *asset.VerifiedAsset) AssetResponse {
	return AssetResponse{
		AssetCode:          a.AssetCode,
		AssetIssuer:        a.AssetIssuer,
		VerificationStatus: string(a.VerificationStatus),
		ReputationScore:    a.ReputationScore,
		TrustlineCount:     a.TrustlineCount,
		UnresolvedReports:  a.UnresolvedReports,
		FirstSeenAt:        a.FirstSeenAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
}

func mapSnapshotToResponse(sub *snapshot.Submission) SnapshotResponse {
	return SnapshotResponse{
		Epoch:          sub.Epoch,
		Hash:           hex.EncodeToString(sub.Hash),
		FormatVersion:  sub.FormatVersion,
		ChainTimestamp: sub.ChainTimestamp,
		SubmittedAt:    sub.UpdatedAt.Format(time.RFC3339),
	}
}
