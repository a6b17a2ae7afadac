package ingestion

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// NormalizedBatch is one page of raw records mapped to canonical shapes,
// together with the key sets its batch event will announce. Only the slice
// matching the task is populated.
type NormalizedBatch struct {
	Task         shared.TaskName
	Payments     []*record.Payment
	Trustlines   []*record.TrustlineEvent
	Merges       []*record.AccountMerge
	FeeBumps     []*record.FeeBumpTransaction
	Skipped      int
	AnchorIDs    []string
	CorridorDays []shared.CorridorDay
	AssetKeys    []shared.AssetKey
}

// Empty reports whether the batch carries no normalized records.
func (b *NormalizedBatch) Empty() bool {
	return len(b.Payments) == 0 && len(b.Trustlines) == 0 && len(b.Merges) == 0 && len(b.FeeBumps) == 0
}

// Normalizer maps raw feed records to canonical ones. A malformed record is
// logged and counted as skipped; it never fails the batch.
type Normalizer struct {
	rates  RateSource
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger, rates RateSource) *Normalizer {
	return &Normalizer{
		rates:  rates,
		logger: logger,
	}
}

// NormalizeBatch converts one fetched page for a task.
func (n *Normalizer) NormalizeBatch(task shared.TaskName, raws []*RawOperation) *NormalizedBatch {
	batch := &NormalizedBatch{Task: task}
	now := time.Now().UTC()

	anchorIDs := map[string]bool{}
	corridorDays := map[shared.CorridorDay]bool{}
	assetKeys := map[shared.AssetKey]bool{}

	for _, raw := range raws {
		switch task {
		case shared.TaskPayments:
			payment, err := n.normalizePayment(raw, now)
			if err != nil {
				n.skip(task, raw, err)
				batch.Skipped++
				continue
			}
			batch.Payments = append(batch.Payments, payment)
			if payment.AnchorID != "" {
				anchorIDs[payment.AnchorID] = true
			}
			corridorDays[shared.CorridorDay{CorridorKey: payment.CorridorKey(), Date: payment.Day()}] = true

		case shared.TaskTrustlines:
			event, err := n.normalizeTrustline(raw, now)
			if err != nil {
				n.skip(task, raw, err)
				batch.Skipped++
				continue
			}
			batch.Trustlines = append(batch.Trustlines, event)
			anchorIDs[event.AssetIssuer] = true
			assetKeys[shared.AssetKey{Code: event.AssetCode, Issuer: event.AssetIssuer}] = true

		case shared.TaskAccountMerges:
			merge, err := n.normalizeAccountMerge(raw, now)
			if err != nil {
				n.skip(task, raw, err)
				batch.Skipped++
				continue
			}
			batch.Merges = append(batch.Merges, merge)

		case shared.TaskFeeBumps:
			feeBump, err := n.normalizeFeeBump(raw, now)
			if err != nil {
				n.skip(task, raw, err)
				batch.Skipped++
				continue
			}
			batch.FeeBumps = append(batch.FeeBumps, feeBump)
		}
	}

	for id := range anchorIDs {
		batch.AnchorIDs = append(batch.AnchorIDs, id)
	}
	sort.Strings(batch.AnchorIDs)

	for cd := range corridorDays {
		batch.CorridorDays = append(batch.CorridorDays, cd)
	}
	sort.Slice(batch.CorridorDays, func(i, j int) bool {
		if batch.CorridorDays[i].CorridorKey != batch.CorridorDays[j].CorridorKey {
			return batch.CorridorDays[i].CorridorKey < batch.CorridorDays[j].CorridorKey
		}
		return batch.CorridorDays[i].Date < batch.CorridorDays[j].Date
	})

	for key := range assetKeys {
		batch.AssetKeys = append(batch.AssetKeys, key)
	}
	sort.Slice(batch.AssetKeys, func(i, j int) bool {
		return batch.AssetKeys[i].String() < batch.AssetKeys[j].String()
	})

	return batch
}

func (n *Normalizer) skip(task shared.TaskName, raw *RawOperation, err error) {
	n.logger.Warn("Skipping malformed ledger record",
		"task", string(task),
		"record_id", raw.ID,
		"paging_token", raw.PagingToken,
		"error", err,
	)
}

// closeTime resolves the ledger close time of a raw record. Horizon
// operation and transaction resources emit created_at rather than an
// explicit close time, so created_at stands in when closed_at is absent.
func closeTime(raw *RawOperation) (time.Time, error) {
	if !raw.ClosedAt.IsZero() {
		return raw.ClosedAt, nil
	}
	if !raw.CreatedAt.IsZero() {
		return raw.CreatedAt, nil
	}
	return time.Time{}, fmt.Errorf("missing close time")
}

func (n *Normalizer) normalizePayment(raw *RawOperation, now time.Time) (*record.Payment, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("missing operation id")
	}
	if raw.From == "" || raw.To == "" {
		return nil, fmt.Errorf("missing payment endpoints")
	}
	closedAt, err := closeTime(raw)
	if err != nil {
		return nil, err
	}

	destAmount, err := parseStroops(raw.Amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", raw.Amount, err)
	}

	// Path payments carry the send asset in the source_asset_* fields; plain
	// payments use a single asset on both legs.
	sendCode, sendIssuer := raw.AssetCode, raw.AssetIssuer
	sendAmount := destAmount
	if raw.SourceAssetType != "" {
		sendCode, sendIssuer = raw.SourceAssetCode, raw.SourceAssetIssuer
		if raw.SourceAmount != "" {
			sendAmount, err = parseStroops(raw.SourceAmount)
			if err != nil {
				return nil, fmt.Errorf("bad source amount %q: %w", raw.SourceAmount, err)
			}
		}
	}

	// Attribution: the issuer of the destination asset, falling back to the
	// send asset issuer. Fully native payments have no anchor.
	anchorID := raw.AssetIssuer
	if anchorID == "" {
		anchorID = sendIssuer
	}

	// Settlement latency is only measurable when the feed carries both
	// timestamps; plain Horizon records score a settlement of zero.
	settlementMs := int64(0)
	if !raw.ClosedAt.IsZero() && !raw.CreatedAt.IsZero() {
		settlementMs = raw.ClosedAt.Sub(raw.CreatedAt).Milliseconds()
		if settlementMs < 0 {
			settlementMs = 0
		}
	}

	return &record.Payment{
		OpID:            raw.ID,
		TxHash:          raw.TransactionHash,
		SourceAccount:   raw.From,
		DestAccount:     raw.To,
		AnchorID:        anchorID,
		AssetCode:       sendCode,
		AssetIssuer:     sendIssuer,
		DestAssetCode:   raw.AssetCode,
		DestAssetIssuer: raw.AssetIssuer,
		Amount:          sendAmount,
		AmountUSD:       n.rates.USDCents(raw.AssetCode, raw.AssetIssuer, destAmount),
		Successful:      raw.TransactionSuccessful,
		SettlementMs:    settlementMs,
		LedgerSequence:  raw.LedgerSequence,
		ClosedAt:        closedAt.UTC(),
		IngestedAt:      now,
	}, nil
}

func (n *Normalizer) normalizeTrustline(raw *RawOperation, now time.Time) (*record.TrustlineEvent, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("missing operation id")
	}
	if raw.Trustor == "" {
		return nil, fmt.Errorf("missing trustor")
	}
	if raw.AssetCode == "" || raw.AssetIssuer == "" {
		return nil, fmt.Errorf("missing asset")
	}
	closedAt, err := closeTime(raw)
	if err != nil {
		return nil, err
	}

	limit, err := parseStroops(raw.Limit)
	if err != nil {
		return nil, fmt.Errorf("bad trust limit %q: %w", raw.Limit, err)
	}

	// The feed does not distinguish create from update; a zero limit removes
	// the trustline, anything else is treated as establishing it.
	action := record.TrustlineCreated
	if limit == 0 {
		action = record.TrustlineRemoved
	}

	return &record.TrustlineEvent{
		OpID:           raw.ID,
		Account:        raw.Trustor,
		AssetCode:      raw.AssetCode,
		AssetIssuer:    raw.AssetIssuer,
		Action:         action,
		LimitAmount:    limit,
		LedgerSequence: raw.LedgerSequence,
		ClosedAt:       closedAt.UTC(),
		IngestedAt:     now,
	}, nil
}

func (n *Normalizer) normalizeAccountMerge(raw *RawOperation, now time.Time) (*record.AccountMerge, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("missing operation id")
	}
	if raw.Account == "" || raw.Into == "" {
		return nil, fmt.Errorf("missing merge accounts")
	}
	closedAt, err := closeTime(raw)
	if err != nil {
		return nil, err
	}

	return &record.AccountMerge{
		OpID:           raw.ID,
		MergedAccount:  raw.Account,
		IntoAccount:    raw.Into,
		LedgerSequence: raw.LedgerSequence,
		ClosedAt:       closedAt.UTC(),
		IngestedAt:     now,
	}, nil
}

func (n *Normalizer) normalizeFeeBump(raw *RawOperation, now time.Time) (*record.FeeBumpTransaction, error) {
	txHash := raw.TransactionHash
	if txHash == "" {
		txHash = raw.ID
	}
	if txHash == "" {
		return nil, fmt.Errorf("missing transaction hash")
	}
	// Every Horizon transaction carries a fee_account; only fee bumps
	// carry the nested inner transaction.
	if raw.InnerTransaction == nil || raw.InnerTransaction.Hash == "" {
		return nil, fmt.Errorf("not a fee bump transaction")
	}
	if raw.FeeAccount == "" {
		return nil, fmt.Errorf("missing fee account")
	}
	closedAt, err := closeTime(raw)
	if err != nil {
		return nil, err
	}

	feeCharged, err := strconv.ParseInt(raw.FeeCharged, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad fee charged %q: %w", raw.FeeCharged, err)
	}

	return &record.FeeBumpTransaction{
		TxHash:         txHash,
		FeeSource:      raw.FeeAccount,
		InnerTxHash:    raw.InnerTransaction.Hash,
		FeeCharged:     feeCharged,
		Successful:     raw.Successful,
		LedgerSequence: raw.LedgerSequence,
		ClosedAt:       closedAt.UTC(),
		IngestedAt:     now,
	}, nil
}

// parseStroops parses a non-negative decimal asset amount with up to seven
// fractional digits into stroops.
func parseStroops(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if strings.HasPrefix(intPart, "-") {
		return 0, fmt.Errorf("negative amount")
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer part: %w", err)
	}
	if len(fracPart) > 7 {
		return 0, fmt.Errorf("more than 7 fractional digits")
	}
	frac := int64(0)
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart+strings.Repeat("0", 7-len(fracPart)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad fractional part: %w", err)
		}
	}
	return whole*stroopsPerUnit + frac, nil
}
