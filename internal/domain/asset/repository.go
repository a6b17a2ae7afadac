package asset

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository manages verified-asset rows and their audit history. SaveWithHistory
// must write the asset update and the history row atomically.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx pgx.Tx) Repository

	// Get returns the current state, or ErrAssetNotFound.
	Get(ctx context.Context, code, issuer string) (*VerifiedAsset, error)

	// LockForUpdate obtains a row lock inside the surrounding transaction,
	// creating the unverified row on first sighting.
	LockForUpdate(ctx context.Context, code, issuer string) (*VerifiedAsset, error)

	// SaveWithHistory writes the updated asset row and appends the audit row
	// in the same transaction. A nil entry saves the asset without an audit
	// row, for refreshes that changed no visible state.
	SaveWithHistory(ctx context.Context, a *VerifiedAsset, h *HistoryEntry) error

	// List returns all tracked assets ordered by (code, issuer).
	List(ctx context.Context) ([]*VerifiedAsset, error)

	// History returns the audit trail for one asset, oldest first.
	History(ctx context.Context, code, issuer string) ([]*HistoryEntry, error)
}

// ErrAssetNotFound indicates a missing verified-asset row
type ErrAssetNotFound struct {
	Code   string
	Issuer string
}

func (e ErrAssetNotFound) Error() string {
	return "verified asset not found: " + e.Code + ":" + e.Issuer
}

// Is implements the errors.Is interface for ErrAssetNotFound
func (e ErrAssetNotFound) Is(target error) bool {
	t, ok := target.(ErrAssetNotFound)
	if !ok {
		return false
	}
	if t.Code == "" && t.Issuer == "" {
		return true
	}
	return e.Code == t.Code && e.Issuer == t.Issuer
}
