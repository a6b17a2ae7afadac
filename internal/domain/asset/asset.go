// Package asset models issued-asset verification state and reputation. Status
// moves through a small state machine; every status or score change is
// mirrored by exactly one immutable history row, so replaying the history
// reconstructs the current state.
package asset

import (
	"errors"
	"time"
)

// VerificationStatus enumerates the asset state machine states.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusVerified   VerificationStatus = "verified"
	StatusSuspicious VerificationStatus = "suspicious"
)

// ErrInvalidTransition rejects a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid verification status transition")

// VerifiedAsset is the current verification and reputation state of one
// issued asset, keyed by (code, issuer).
type VerifiedAsset struct {
	AssetCode              string             `json:"asset_code"`
	AssetIssuer            string             `json:"asset_issuer"`
	VerificationStatus     VerificationStatus `json:"verification_status"`
	ReputationScore        int                `json:"reputation_score"`
	RegistryVerified       bool               `json:"registry_verified"`        // listed in the external asset registry
	IssuerMetadataVerified bool               `json:"issuer_metadata_verified"` // stellar.toml cross-check passed
	SuspiciousReports      int                `json:"suspicious_reports_count"`
	UnresolvedReports      int                `json:"unresolved_reports_count"`
	TrustlineCount         int64              `json:"trustline_count"`
	TxVolume               int64              `json:"tx_volume"`
	ScoreVersion           int                `json:"score_version"`
	FirstSeenAt            time.Time          `json:"first_seen_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// NewAsset returns the unverified row created on first sighting.
func NewAsset(code, issuer string, now time.Time) *VerifiedAsset {
	return &VerifiedAsset{
		AssetCode:          code,
		AssetIssuer:        issuer,
		VerificationStatus: StatusUnverified,
		FirstSeenAt:        now,
		UpdatedAt:          now,
	}
}

// SourcesVerified reports whether at least one verification source vouches
// for the asset.
func (a *VerifiedAsset) SourcesVerified() bool {
	return a.RegistryVerified || a.IssuerMetadataVerified
}

// CanTransition reports whether the state machine allows moving to the target
// status. suspicious may only be left via an explicit report resolution, which
// callers signal with resolved=true.
func (a *VerifiedAsset) CanTransition(to VerificationStatus, resolved bool) bool {
	from := a.VerificationStatus
	if from == to {
		return false
	}
	switch {
	case to == StatusSuspicious:
		return true // any state can degrade
	case from == StatusUnverified && to == StatusVerified:
		return true
	case from == StatusVerified && to == StatusUnverified:
		return true // source flag revoked without suspicion
	case from == StatusSuspicious:
		return resolved
	default:
		return false
	}
}

// Transition applies a status change, enforcing the state machine.
func (a *VerifiedAsset) Transition(to VerificationStatus, resolved bool, now time.Time) error {
	if !a.CanTransition(to, resolved) {
		return ErrInvalidTransition
	}
	a.VerificationStatus = to
	a.UpdatedAt = now
	return nil
}
