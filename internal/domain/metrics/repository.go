package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository manages current aggregate rows in the durable store. Updates to
// a single entity serialize on its row lock; disjoint entities update in
// parallel.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx pgx.Tx) Repository

	// GetAnchor returns the current aggregate, or ErrAnchorNotFound.
	GetAnchor(ctx context.Context, anchorID string) (*AnchorMetrics, error)

	// LockAnchorForUpdate obtains a row lock inside the surrounding
	// transaction and returns the current state, creating a provisional row
	// when the anchor has never been seen.
	LockAnchorForUpdate(ctx context.Context, anchorID string) (*AnchorMetrics, error)

	// SaveAnchor writes the full aggregate row back.
	SaveAnchor(ctx context.Context, m *AnchorMetrics) error

	// PromoteAnchor flips a provisional row to registered. Counters are
	// untouched. A no-op when the row is already registered.
	PromoteAnchor(ctx context.Context, anchorID string) error

	// ListAnchors returns all current anchor aggregates ordered by anchor id.
	ListAnchors(ctx context.Context) ([]*AnchorMetrics, error)

	// LockCorridorForUpdate locks (or creates empty) the bucket row for one
	// corridor day inside the surrounding transaction.
	LockCorridorForUpdate(ctx context.Context, corridorKey, date string) (*CorridorMetrics, error)

	// SaveCorridor writes the bucket row back.
	SaveCorridor(ctx context.Context, c *CorridorMetrics) error

	// ListCorridors returns bucket rows, optionally filtered to one UTC date,
	// ordered by (corridor_key, date).
	ListCorridors(ctx context.Context, date string) ([]*CorridorMetrics, error)

	// SumCorridorsForAnchor sums corridor buckets attributed to an anchor over
	// a date range, for the consistency reconciliation sweep.
	SumCorridorsForAnchor(ctx context.Context, anchorID string, from, to string) (total, successful int64, err error)
}

// HistoryRepository appends and reads the immutable time-series points kept
// outside the relational store.
type HistoryRepository interface {
	AppendAnchorPoint(ctx context.Context, point *AnchorHistoryPoint) error
	AppendTrustlineSnapshot(ctx context.Context, snap *TrustlineSnapshot) error
	AnchorHistory(ctx context.Context, anchorID string, from, to time.Time, limit int) ([]*AnchorHistoryPoint, error)
	TrustlineHistory(ctx context.Context, assetCode, assetIssuer string, limit int) ([]*TrustlineSnapshot, error)
}

// ErrAnchorNotFound indicates a missing anchor aggregate row
type ErrAnchorNotFound struct {
	AnchorID string
}

func (e ErrAnchorNotFound) Error() string {
	return "anchor metrics not found: " + e.AnchorID
}

// Is implements the errors.Is interface for ErrAnchorNotFound
func (e ErrAnchorNotFound) Is(target error) bool {
	t, ok := target.(ErrAnchorNotFound)
	if !ok {
		return false
	}
	if t.AnchorID == "" {
		return true
	}
	return e.AnchorID == t.AnchorID
}

// ErrCorridorNotFound indicates a missing corridor day bucket
type ErrCorridorNotFound struct {
	CorridorKey string
	Date        string
}

func (e ErrCorridorNotFound) Error() string {
	return "corridor metrics not found: " + e.CorridorKey + "@" + e.Date
}
