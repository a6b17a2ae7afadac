package asset

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one immutable audit row. Exactly one is written for every
// status transition and for every score recomputation, in the same store
// transaction as the asset update it describes.
type HistoryEntry struct {
	ID             uuid.UUID          `json:"id"`
	AssetCode      string             `json:"asset_code"`
	AssetIssuer    string             `json:"asset_issuer"`
	PreviousStatus VerificationStatus `json:"previous_status"`
	NewStatus      VerificationStatus `json:"new_status"`
	PreviousScore  int                `json:"previous_score"`
	NewScore       int                `json:"new_score"`
	Reason         string             `json:"reason"`
	Actor          string             `json:"actor"` // system component or reviewer id
	CreatedAt      time.Time          `json:"created_at"`
}

// NewHistoryEntry captures a before/after pair for the audit log.
func NewHistoryEntry(before, after *VerifiedAsset, reason, actor string, now time.Time) *HistoryEntry {
	return &HistoryEntry{
		ID:             uuid.New(),
		AssetCode:      after.AssetCode,
		AssetIssuer:    after.AssetIssuer,
		PreviousStatus: before.VerificationStatus,
		NewStatus:      after.VerificationStatus,
		PreviousScore:  before.ReputationScore,
		NewScore:       after.ReputationScore,
		Reason:         reason,
		Actor:          actor,
		CreatedAt:      now,
	}
}
