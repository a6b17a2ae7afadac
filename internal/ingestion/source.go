// Package ingestion pulls raw operation records from the Stellar ledger feed,
// normalizes them, and commits each batch atomically with its cursor advance
// and an outbox batch event.
package ingestion

import (
	"context"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// RawOperation is one Horizon-style record as returned by the upstream feed.
// It is a superset of the fields the four task normalizers read; fields not
// present on a given operation type are left zero.
type RawOperation struct {
	ID                    string    `json:"id"`
	PagingToken           string    `json:"paging_token"`
	Type                  string    `json:"type"`
	TransactionHash       string    `json:"transaction_hash"`
	TransactionSuccessful bool      `json:"transaction_successful"`
	SourceAccount         string    `json:"source_account"`

	// payment / path payment
	From              string `json:"from"`
	To                string `json:"to"`
	AssetType         string `json:"asset_type"`
	AssetCode         string `json:"asset_code"`
	AssetIssuer       string `json:"asset_issuer"`
	SourceAssetType   string `json:"source_asset_type"`
	SourceAssetCode   string `json:"source_asset_code"`
	SourceAssetIssuer string `json:"source_asset_issuer"`
	Amount            string `json:"amount"`
	SourceAmount      string `json:"source_amount"`

	// change_trust
	Trustor string `json:"trustor"`
	Limit   string `json:"limit"`

	// account_merge
	Account string `json:"account"`
	Into    string `json:"into"`

	// transaction records. Horizon sets fee_account on every transaction;
	// only fee bumps carry the nested inner_transaction object, so that
	// object is the discriminator.
	FeeAccount       string            `json:"fee_account"`
	InnerTransaction *InnerTransaction `json:"inner_transaction"`
	FeeCharged       string            `json:"fee_charged"`
	Successful       bool              `json:"successful"`

	// Horizon operation and transaction resources stamp created_at only;
	// closed_at is decoded for feeds that carry an explicit close time.
	LedgerSequence uint32    `json:"ledger"`
	CreatedAt      time.Time `json:"created_at"`
	ClosedAt       time.Time `json:"closed_at"`
}

// InnerTransaction is the nested inner-transaction object Horizon attaches
// to fee bump transaction records.
type InnerTransaction struct {
	Hash   string `json:"hash"`
	MaxFee string `json:"max_fee"`
}

// Page is one bounded slice of the upstream feed. NextCursor is the paging
// token to resume from; it reflects the last raw record fetched, including
// records a normalizer later skips.
type Page struct {
	Records    []*RawOperation
	NextCursor string
}

// LedgerSource fetches raw records strictly after a cursor. Implementations
// must honor the context deadline and return pages bounded by limit.
type LedgerSource interface {
	FetchPage(ctx context.Context, task shared.TaskName, cursor string, limit int) (*Page, error)
}
