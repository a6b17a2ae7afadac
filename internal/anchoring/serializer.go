// Package anchoring periodically fingerprints the current aggregate state and
// commits the fingerprint to an external snapshot contract, producing a
// tamper-evident audit trail that third parties can recompute and verify.
package anchoring

import (
	"bytes"
	"crypto/sha256"
	"sort"
	"strconv"

	"github.com/stellar-anchor-watch/internal/domain/metrics"
)

// FormatVersion identifies the serialization layout. It is stamped into every
// submission record so historical hashes stay verifiable if the layout or the
// score formula changes later.
const FormatVersion = 1

// SerializeState renders the aggregate state as canonical bytes. Anchors are
// sorted by anchor id, corridor buckets by (corridor key, date), fields appear
// in a fixed order with decimal integer encoding. Timestamps are excluded so
// the same logical state always produces the same bytes. Inputs are not
// mutated.
func SerializeState(anchors []*metrics.AnchorMetrics, corridors []*metrics.CorridorMetrics) []byte {
	sortedAnchors := make([]*metrics.AnchorMetrics, len(anchors))
	copy(sortedAnchors, anchors)
	sort.Slice(sortedAnchors, func(i, j int) bool {
		return sortedAnchors[i].AnchorID < sortedAnchors[j].AnchorID
	})

	sortedCorridors := make([]*metrics.CorridorMetrics, len(corridors))
	copy(sortedCorridors, corridors)
	sort.Slice(sortedCorridors, func(i, j int) bool {
		if sortedCorridors[i].CorridorKey != sortedCorridors[j].CorridorKey {
			return sortedCorridors[i].CorridorKey < sortedCorridors[j].CorridorKey
		}
		return sortedCorridors[i].Date < sortedCorridors[j].Date
	})

	var buf bytes.Buffer
	buf.WriteString("v")
	buf.WriteString(strconv.Itoa(FormatVersion))
	buf.WriteByte('\n')

	for _, a := range sortedAnchors {
		writeFields(&buf,
			"A",
			a.AnchorID,
			strconv.FormatInt(a.TotalTxns, 10),
			strconv.FormatInt(a.SuccessfulTxns, 10),
			strconv.FormatInt(a.FailedTxns, 10),
			strconv.FormatInt(a.AvgSettlementMs, 10),
			strconv.FormatInt(a.TotalVolume, 10),
			strconv.FormatInt(a.TotalVolumeUSD, 10),
			strconv.Itoa(a.ReliabilityScore),
			strconv.Itoa(a.ScoreVersion),
		)
	}
	for _, c := range sortedCorridors {
		writeFields(&buf,
			"C",
			c.CorridorKey,
			c.Date,
			c.AnchorID,
			strconv.FormatInt(c.TotalPayments, 10),
			strconv.FormatInt(c.SuccessfulPayments, 10),
			strconv.FormatInt(c.FailedPayments, 10),
			strconv.FormatInt(c.Volume, 10),
			strconv.FormatInt(c.VolumeUSD, 10),
			strconv.Itoa(c.SuccessRateBp),
		)
	}
	return buf.Bytes()
}

// HashState returns the 32-byte digest submitted on-chain.
func HashState(anchors []*metrics.AnchorMetrics, corridors []*metrics.CorridorMetrics) [sha256.Size]byte {
	return sha256.Sum256(SerializeState(anchors, corridors))
}

func writeFields(buf *bytes.Buffer, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(f)
	}
	buf.WriteByte('\n')
}
