// Package record defines the canonical normalized shapes of ingested ledger
// activity. Records are append-only and keyed by their natural ledger id
// (operation or transaction hash), which makes re-ingestion a no-op.
package record

import (
	"time"
)

// Payment is a normalized payment or path-payment operation. The corridor a
// payment belongs to is the ordered pair of its send and destination assets.
type Payment struct {
	OpID            string    `json:"op_id"` // natural key: operation id from the ledger
	TxHash          string    `json:"tx_hash"`
	SourceAccount   string    `json:"source_account"`
	DestAccount     string    `json:"dest_account"`
	AnchorID        string    `json:"anchor_id"` // issuing anchor the payment is attributed to
	AssetCode       string    `json:"asset_code"`
	AssetIssuer     string    `json:"asset_issuer"`
	DestAssetCode   string    `json:"dest_asset_code"`   // equals AssetCode for plain payments
	DestAssetIssuer string    `json:"dest_asset_issuer"` // equals AssetIssuer for plain payments
	Amount          int64     `json:"amount"` // stroops / minor units
	AmountUSD       int64     `json:"amount_usd"` // USD cents at ingestion time
	Successful      bool      `json:"successful"`
	SettlementMs    int64     `json:"settlement_ms"` // submission-to-close latency
	LedgerSequence  uint32    `json:"ledger_sequence"`
	ClosedAt        time.Time `json:"closed_at"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// CorridorKey returns the ordered asset-pair route this payment traveled,
// e.g. "USDC:GA...→EURT:GB...". Native lumens render as "XLM".
func (p *Payment) CorridorKey() string {
	return assetLabel(p.AssetCode, p.AssetIssuer) + "→" + assetLabel(p.DestAssetCode, p.DestAssetIssuer)
}

// Day returns the UTC calendar day bucket this payment belongs to.
func (p *Payment) Day() string {
	return p.ClosedAt.UTC().Format("2006-01-02")
}

func assetLabel(code, issuer string) string {
	if issuer == "" {
		return "XLM"
	}
	return code + ":" + issuer
}

// TrustlineAction enumerates trustline change kinds.
type TrustlineAction string

const (
	TrustlineCreated TrustlineAction = "created"
	TrustlineUpdated TrustlineAction = "updated"
	TrustlineRemoved TrustlineAction = "removed"
)

// TrustlineEvent is a normalized change_trust operation.
type TrustlineEvent struct {
	OpID           string          `json:"op_id"` // natural key
	Account        string          `json:"account"`
	AssetCode      string          `json:"asset_code"`
	AssetIssuer    string          `json:"asset_issuer"`
	Action         TrustlineAction `json:"action"`
	LimitAmount    int64           `json:"limit_amount"`
	LedgerSequence uint32          `json:"ledger_sequence"`
	ClosedAt       time.Time       `json:"closed_at"`
	IngestedAt     time.Time       `json:"ingested_at"`
}

// AccountMerge is a normalized account_merge operation.
type AccountMerge struct {
	OpID           string    `json:"op_id"` // natural key
	MergedAccount  string    `json:"merged_account"`
	IntoAccount    string    `json:"into_account"`
	LedgerSequence uint32    `json:"ledger_sequence"`
	ClosedAt       time.Time `json:"closed_at"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// FeeBumpTransaction is a normalized fee-bump transaction envelope.
type FeeBumpTransaction struct {
	TxHash         string    `json:"tx_hash"` // natural key
	FeeSource      string    `json:"fee_source"`
	InnerTxHash    string    `json:"inner_tx_hash"`
	FeeCharged     int64     `json:"fee_charged"`
	Successful     bool      `json:"successful"`
	LedgerSequence uint32    `json:"ledger_sequence"`
	ClosedAt       time.Time `json:"closed_at"`
	IngestedAt     time.Time `json:"ingested_at"`
}
