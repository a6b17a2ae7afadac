// Package reputation maintains per-asset verification state and reputation
// scores. It reacts to trustline batch events, runs the scheduled source
// verification sweep, and exposes the reviewer operations for suspicious
// assets. Every observable change is mirrored by one audit history row.
package reputation

import (
	"github.com/stellar-anchor-watch/internal/domain/asset"
)

// ScoreVersion identifies the reputation formula below.
const ScoreVersion = 1

const (
	registryWeight  = 40
	metadataWeight  = 20
	sourceWeightCap = 50
	reportPenalty   = 15
)

// trustline count tiers, half of the volume component
var trustlineTiers = []struct {
	min    int64
	points int
}{
	{1000, 20},
	{100, 15},
	{10, 10},
	{1, 5},
}

// successful payment volume tiers in stroops, the other half
var volumeTiers = []struct {
	min    int64
	points int
}{
	{1_000_000_000_000, 20}, // 100k units
	{10_000_000_000, 15},    // 1k units
	{100_000_000, 10},       // 10 units
	{1, 5},
}

// Score computes reputation formula version 1 from the asset's current
// state. Integer arithmetic only; strictly non-increasing in the unresolved
// report count, all else equal.
//
//	volume  = trustline tier (0-20) + payment volume tier (0-20)
//	sources = registry 40 + issuer metadata 20, capped at 50
//	score   = clamp(0, 100, volume + sources - 15*unresolved_reports)
func Score(a *asset.VerifiedAsset) int {
	score := 0

	for _, tier := range trustlineTiers {
		if a.TrustlineCount >= tier.min {
			score += tier.points
			break
		}
	}
	for _, tier := range volumeTiers {
		if a.TxVolume >= tier.min {
			score += tier.points
			break
		}
	}

	sources := 0
	if a.RegistryVerified {
		sources += registryWeight
	}
	if a.IssuerMetadataVerified {
		sources += metadataWeight
	}
	if sources > sourceWeightCap {
		sources = sourceWeightCap
	}
	score += sources

	score -= reportPenalty * a.UnresolvedReports

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
