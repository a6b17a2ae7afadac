package shared

import "time"

// BatchEvent describes one committed ingestion batch. It is written to the
// outbox in the same transaction as the records it summarizes, published to
// Kafka by the outbox poller, and consumed by the aggregation engine and the
// reputation scorer. It carries keys, never record payloads: consumers reload
// state from the store so that all coordination happens through committed rows.
type BatchEvent struct {
	Task          TaskName       `json:"task"`
	Cursor        string         `json:"cursor"`         // cursor position after this batch
	RecordCount   int            `json:"record_count"`   // records persisted in this batch
	SkippedCount  int            `json:"skipped_count"`  // malformed records logged and skipped
	AnchorIDs     []string       `json:"anchor_ids,omitempty"`     // anchors with new activity
	CorridorDays  []CorridorDay  `json:"corridor_days,omitempty"`  // corridor day-buckets touched
	AssetKeys     []AssetKey     `json:"asset_keys,omitempty"`     // assets with trustline activity
	CorrelationID string         `json:"correlation_id,omitempty"`
	CommittedAt   time.Time      `json:"committed_at"`
}

// CorridorDay names one (corridor, UTC date) aggregation bucket.
type CorridorDay struct {
	CorridorKey string `json:"corridor_key"`
	Date        string `json:"date"` // YYYY-MM-DD, UTC
}

// AssetKey identifies an issued asset.
type AssetKey struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

func (k AssetKey) String() string {
	return k.Code + ":" + k.Issuer
}
