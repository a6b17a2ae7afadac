package record

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository persists normalized ledger records. All Upsert methods are
// idempotent by natural key: re-applying an already-stored record changes
// nothing and reports inserted=false. The UpsertBatch variants are expected to
// run inside the same transaction that advances the task cursor.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx pgx.Tx) Repository

	UpsertPayments(ctx context.Context, payments []*Payment) (inserted int, err error)
	UpsertTrustlineEvents(ctx context.Context, events []*TrustlineEvent) (inserted int, err error)
	UpsertAccountMerges(ctx context.Context, merges []*AccountMerge) (inserted int, err error)
	UpsertFeeBumps(ctx context.Context, feeBumps []*FeeBumpTransaction) (inserted int, err error)

	// GetPaymentByOpID supports idempotency checks and tests.
	GetPaymentByOpID(ctx context.Context, opID string) (*Payment, error)

	// PaymentsForAnchor returns every payment attributed to an anchor, used by
	// the aggregation engine when recomputing from raw history.
	PaymentsForAnchor(ctx context.Context, anchorID string) ([]*Payment, error)

	// PaymentsForCorridorDay returns the payments in one corridor day-bucket.
	PaymentsForCorridorDay(ctx context.Context, corridorKey string, day string) ([]*Payment, error)

	// CountPaymentsForAnchor counts raw payments attributable to an anchor,
	// used by the reconciliation sweep to detect aggregate divergence.
	CountPaymentsForAnchor(ctx context.Context, anchorID string) (int64, error)

	// TrustlineCountForAsset counts live trustlines (created minus removed)
	// observed for an asset up to now.
	TrustlineCountForAsset(ctx context.Context, assetCode, assetIssuer string) (int64, error)

	// PaymentVolumeForAsset sums successful payment volume in an asset since a
	// point in time, feeding the reputation score.
	PaymentVolumeForAsset(ctx context.Context, assetCode, assetIssuer string, since time.Time) (int64, error)
}

// ErrPaymentNotFound indicates a missing payment record
type ErrPaymentNotFound struct {
	OpID string
}

func (e ErrPaymentNotFound) Error() string {
	return "payment record not found: " + e.OpID
}

// Is implements the errors.Is interface for ErrPaymentNotFound
func (e ErrPaymentNotFound) Is(target error) bool {
	t, ok := target.(ErrPaymentNotFound)
	if !ok {
		return false
	}
	if t.OpID == "" {
		return true
	}
	return e.OpID == t.OpID
}
